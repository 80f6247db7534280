package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/golang/glog"
	"github.com/kodek/doorguard/watcher/clock"
	"github.com/kodek/doorguard/watcher/databases"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/pkg/errors"
)

// TripDispatcher sends the command of a tripped condition.
type TripDispatcher interface {
	DispatchTrip(ctx context.Context, ident string, trip rules.Trip) (Ack, error)
}

type SessionConfig struct {
	Ident      string
	Source     Source
	Tracker    rules.Tracker
	Conditions []rules.Condition
	Dispatcher TripDispatcher
	// Store is optional.
	Store   databases.Database
	Clock   clock.Clock
	Cadence time.Duration
}

// Session is the serialized pipeline of a single device: records update the
// derived state, and the conditions are evaluated one cadence after a record.
type Session struct {
	ident      string
	source     Source
	tracker    rules.Tracker
	conditions []rules.Condition
	dispatcher TripDispatcher
	store      databases.Database
	clock      clock.Clock
	cadence    time.Duration

	mu     sync.Mutex
	state  rules.VehicleState
	trips  rules.TripState
	latest *rules.TelemetryRecord

	// inFlight is 1 while an evaluation and its dispatches run.
	inFlight int32
	wg       sync.WaitGroup
}

func NewSession(c SessionConfig) (*Session, error) {
	if c.Ident == "" {
		return nil, errors.New("session needs a device ident")
	}
	if c.Source == nil || c.Dispatcher == nil {
		return nil, errors.Errorf("session for %s needs a source and a dispatcher", c.Ident)
	}
	if c.Cadence <= 0 {
		return nil, errors.Errorf("invalid cadence %s", c.Cadence)
	}
	if c.Clock == nil {
		c.Clock = clock.NewReal()
	}
	if c.Conditions == nil {
		c.Conditions = rules.DefaultConditions(c.Tracker.Signals)
	}
	return &Session{
		ident:      c.Ident,
		source:     c.Source,
		tracker:    c.Tracker,
		conditions: c.Conditions,
		dispatcher: c.Dispatcher,
		store:      c.Store,
		clock:      c.Clock,
		cadence:    c.Cadence,
		trips:      make(rules.TripState),
	}, nil
}

func (s *Session) Ident() string {
	return s.ident
}

// Ingest folds a record into the derived state.
func (s *Session) Ingest(ctx context.Context, rec rules.TelemetryRecord) rules.VehicleState {
	s.mu.Lock()
	s.state = s.tracker.Update(s.state, rec, clock.NowMs(s.clock))
	s.latest = &rec
	state := s.state
	s.mu.Unlock()

	RecordsTotal.WithLabelValues(s.ident).Inc()
	if glog.V(2) {
		glog.Infof("Record for %s: %s\nDerived state: %s", s.ident, rec, spew.Sdump(state))
	}

	if s.store != nil {
		if err := s.store.Insert(ctx, rec, state); err != nil {
			glog.Errorf("Cannot record telemetry for %s: %s", s.ident, err)
		}
	}
	return state
}

// Evaluate runs the conditions against the latest state and dispatches what
// tripped. It returns false without doing anything if an earlier evaluation is
// still dispatching.
func (s *Session) Evaluate(ctx context.Context) bool {
	if !atomic.CompareAndSwapInt32(&s.inFlight, 0, 1) {
		EvaluationsDropped.WithLabelValues(s.ident).Inc()
		glog.V(1).Infof("Dropping evaluation for %s: dispatch in flight", s.ident)
		return false
	}
	defer atomic.StoreInt32(&s.inFlight, 0)

	s.mu.Lock()
	if s.latest == nil {
		s.mu.Unlock()
		return true
	}
	fire, next := rules.Evaluate(s.conditions, s.state, *s.latest, s.trips)
	s.trips = next
	s.mu.Unlock()

	EvaluationsTotal.WithLabelValues(s.ident).Inc()
	for _, trip := range fire {
		if ctx.Err() != nil {
			return true
		}
		// The trip flag stands whatever the outcome.
		if _, err := s.dispatcher.DispatchTrip(ctx, s.ident, trip); err != nil {
			glog.Errorf("Dispatch for condition %s on %s failed: %s", trip.Condition, s.ident, err)
		}
	}
	return true
}

// Run consumes the device's records until ctx is done or the source ends. A
// record arms an evaluation one cadence later unless one is already armed, so
// records arriving in between are folded into it. A tick that finds an
// evaluation running is held and re-armed when that evaluation finishes. Run
// returns only after any running evaluation has finished.
func (s *Session) Run(ctx context.Context) error {
	records, err := s.source.Records(ctx, s.ident)
	if err != nil {
		return errors.Wrapf(err, "cannot open telemetry source for %s", s.ident)
	}
	glog.Infof("Watching %s (cadence %s)", s.ident, s.cadence)

	var timer clock.Timer
	var tick <-chan time.Time
	arm := func() {
		if tick == nil {
			timer = s.clock.NewTimer(s.cadence)
			tick = timer.C()
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		s.wg.Wait()
		glog.Infof("Stopped watching %s", s.ident)
	}()

	// evaluated reports whether the evaluation ran; one is outstanding at most.
	evaluated := make(chan bool, 1)
	evaluating := false
	pending := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-records:
			if !ok {
				return nil
			}
			s.Ingest(ctx, rec)
			arm()
		case <-tick:
			tick = nil
			if evaluating {
				pending = true
				EvaluationsDropped.WithLabelValues(s.ident).Inc()
				glog.V(1).Infof("Holding evaluation for %s: dispatch in flight", s.ident)
				continue
			}
			evaluating = true
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				evaluated <- s.Evaluate(ctx)
			}()
		case ran := <-evaluated:
			evaluating = false
			if pending || !ran {
				pending = false
				arm()
			}
		}
	}
}

// SessionStatus is a point-in-time view of a session.
type SessionStatus struct {
	Ident       string                 `json:"ident"`
	State       rules.VehicleState     `json:"state"`
	Trips       rules.TripState        `json:"trips"`
	Latest      *rules.TelemetryRecord `json:"latest,omitempty"`
	Dispatching bool                   `json:"dispatching"`
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SessionStatus{
		Ident:       s.ident,
		State:       s.state,
		Trips:       s.trips.Clone(),
		Dispatching: atomic.LoadInt32(&s.inFlight) == 1,
	}
	if s.latest != nil {
		rec := *s.latest
		st.Latest = &rec
	}
	return st
}
