package rules

import "time"

// DefaultDoorCloseWindow is how quickly a door must be closed after opening to count
// as a "quick close".
const DefaultDoorCloseWindow = 7 * time.Second

// SignalNames maps the tracker's inputs to provider signal names.
type SignalNames struct {
	FrontLeftDoor  string
	FrontRightDoor string
	RearLeftDoor   string
	RearRightDoor  string
	Trunk          string
	Ignition       string
	Speed          string
	Locked         string
}

// DefaultSignalNames are the Flespi CAN parameter names.
func DefaultSignalNames() SignalNames {
	return SignalNames{
		FrontLeftDoor:  "can.front.left.door.status",
		FrontRightDoor: "can.front.right.door.status",
		RearLeftDoor:   "can.rear.left.door.status",
		RearRightDoor:  "can.rear.right.door.status",
		Trunk:          "can.trunk.status",
		Ignition:       "engine.ignition.status",
		Speed:          "can.vehicle.speed",
		Locked:         "can.car.closed.status",
	}
}

// WithDefaults fills empty names from DefaultSignalNames.
func (n SignalNames) WithDefaults() SignalNames {
	d := DefaultSignalNames()
	fill := func(s *string, def string) {
		if *s == "" {
			*s = def
		}
	}
	fill(&n.FrontLeftDoor, d.FrontLeftDoor)
	fill(&n.FrontRightDoor, d.FrontRightDoor)
	fill(&n.RearLeftDoor, d.RearLeftDoor)
	fill(&n.RearRightDoor, d.RearRightDoor)
	fill(&n.Trunk, d.Trunk)
	fill(&n.Ignition, d.Ignition)
	fill(&n.Speed, d.Speed)
	fill(&n.Locked, d.Locked)
	return n
}

// Inputs are the signals the door rules read from a record.
type Inputs struct {
	DoorOpened bool
	EngineOn   bool
	Speed      float64
	DoorLocked bool
}

func (n SignalNames) Extract(r TelemetryRecord) Inputs {
	return Inputs{
		DoorOpened: r.Bool(n.FrontLeftDoor),
		EngineOn:   r.Bool(n.Ignition),
		Speed:      r.Number(n.Speed),
		DoorLocked: r.Bool(n.Locked),
	}
}

type DoorStatus struct {
	FrontLeft  bool `json:"front_left"`
	FrontRight bool `json:"front_right"`
	RearLeft   bool `json:"rear_left"`
	RearRight  bool `json:"rear_right"`
	Trunk      bool `json:"trunk"`
}

// AnyOpen reports whether any door or the trunk is open.
func (d DoorStatus) AnyOpen() bool {
	return d.FrontLeft || d.FrontRight || d.RearLeft || d.RearRight || d.Trunk
}

// VehicleState is the state derived from a device's telemetry over time.
type VehicleState struct {
	Doors                  DoorStatus `json:"doors"`
	DoorOpenedAtMs         *int64     `json:"door_opened_at_ms,omitempty"`
	DoorClosedAfterOpening bool       `json:"door_closed_after_opening"`
	DoorClosedWithinWindow bool       `json:"door_closed_within_window"`
}

// DoorOpenedAt returns the door-open stamp and whether it is set.
func (s VehicleState) DoorOpenedAt() (int64, bool) {
	if s.DoorOpenedAtMs == nil {
		return 0, false
	}
	return *s.DoorOpenedAtMs, true
}

// Tracker derives VehicleState from telemetry records.
type Tracker struct {
	Signals SignalNames
	// Window is the quick-close grace period.
	Window time.Duration
}

func NewTracker(signals SignalNames, window time.Duration) Tracker {
	if window <= 0 {
		window = DefaultDoorCloseWindow
	}
	return Tracker{
		Signals: signals.WithDefaults(),
		Window:  window,
	}
}

// Update folds one record into the current state. Checks read the state as it
// was before this record; writes happen in rule order and the last one wins, so a
// door closed while the engine is off still sees the stamp from when it opened.
func (t Tracker) Update(current VehicleState, r TelemetryRecord, nowMs int64) VehicleState {
	in := t.Signals.Extract(r)
	prevOpenedAt, wasOpen := current.DoorOpenedAt()

	next := current
	next.Doors = DoorStatus{
		FrontLeft:  in.DoorOpened,
		FrontRight: r.Bool(t.Signals.FrontRightDoor),
		RearLeft:   r.Bool(t.Signals.RearLeftDoor),
		RearRight:  r.Bool(t.Signals.RearRightDoor),
		Trunk:      r.Bool(t.Signals.Trunk),
	}

	stamp := func() {
		now := nowMs
		next.DoorOpenedAtMs = &now
	}

	if !in.EngineOn && in.DoorOpened {
		stamp()
	}

	if in.EngineOn {
		if in.DoorOpened {
			stamp()
		} else if wasOpen {
			next.DoorClosedAfterOpening = true
			next.DoorOpenedAtMs = nil
		}
	} else {
		next.DoorClosedAfterOpening = false
		next.DoorOpenedAtMs = nil
	}

	if in.DoorOpened {
		stamp()
		next.DoorClosedWithinWindow = false
	} else if wasOpen {
		elapsed := time.Duration(nowMs-prevOpenedAt) * time.Millisecond
		if elapsed <= t.Window {
			next.DoorClosedWithinWindow = true
		}
	}
	return next
}
