package watcher

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

var (
	ErrAlreadyWatched = errors.New("device is already watched")
	ErrNotWatched     = errors.New("device is not watched")
)

// SessionFactory builds the session of a device.
type SessionFactory func(ident string) (*Session, error)

type managedSession struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager owns one running session per watched device. Sessions share nothing and
// run in parallel.
type Manager struct {
	ctx        context.Context
	newSession SessionFactory

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// NewManager creates a Manager whose sessions stop when ctx is done.
func NewManager(ctx context.Context, factory SessionFactory) *Manager {
	return &Manager{
		ctx:        ctx,
		newSession: factory,
		sessions:   make(map[string]*managedSession),
	}
}

// Attach starts watching ident.
func (m *Manager) Attach(ident string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[ident]; ok {
		return nil, ErrAlreadyWatched
	}
	s, err := m.newSession(ident)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create session for %s", ident)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	ms := &managedSession{
		session: s,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.sessions[ident] = ms
	ActiveSessions.Set(float64(len(m.sessions)))

	go func() {
		defer close(ms.done)
		if err := s.Run(ctx); err != nil {
			glog.Errorf("Session for %s ended: %s", ident, err)
		}
		m.forget(ident, ms)
	}()
	return s, nil
}

func (m *Manager) forget(ident string, ms *managedSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[ident] == ms {
		delete(m.sessions, ident)
		ActiveSessions.Set(float64(len(m.sessions)))
	}
	ms.cancel()
}

// Detach stops watching ident and waits until its session has fully stopped.
func (m *Manager) Detach(ident string) error {
	m.mu.Lock()
	ms, ok := m.sessions[ident]
	if ok {
		delete(m.sessions, ident)
		ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotWatched
	}

	ms.cancel()
	<-ms.done
	return nil
}

func (m *Manager) Get(ident string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[ident]
	if !ok {
		return nil, false
	}
	return ms.session, true
}

// Sessions lists running sessions ordered by ident.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		out = append(out, ms.session)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ident() < out[j].Ident() })
	return out
}

// Shutdown detaches every device.
func (m *Manager) Shutdown() {
	for _, s := range m.Sessions() {
		if err := m.Detach(s.Ident()); err != nil && err != ErrNotWatched {
			glog.Errorf("Cannot detach %s: %s", s.Ident(), err)
		}
	}
}
