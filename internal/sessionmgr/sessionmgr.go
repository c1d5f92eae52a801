// Package sessionmgr is the process-wide session_id -> Session registry
// (§4.5): creation with collision retry, lookup, removal, and a periodic
// sweep that expires idle sessions.
package sessionmgr

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bluenviron/rtspcamd/internal/logger"
	"github.com/bluenviron/rtspcamd/internal/session"
)

// SweepInterval is how often the idle sweep runs (§4.5, §5).
const SweepInterval = 10 * time.Second

// DefaultTimeout is the default session idle timeout (§3, §5).
const DefaultTimeout = 60 * time.Second

// Manager is the process-wide session table.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session.Session

	log logger.Writer

	// OnExpire is called for every session found idle past its timeout
	// during a sweep, before it's removed from the table. The callback is
	// responsible for the Session's own Teardown (including unsubscribing
	// it from its stream's fanout) since only the caller holds the
	// registry reference needed to do that (§4.5, §4.7).
	OnExpire func(s *session.Session)

	terminate chan struct{}
	done      chan struct{}
}

// New allocates a Manager and starts its idle sweep goroutine.
func New(log logger.Writer) *Manager {
	m := &Manager{
		sessions:  make(map[string]*session.Session),
		log:       log,
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Close stops the sweep goroutine. It does not tear down existing
// sessions; callers that want a full shutdown should TEARDOWN every
// session first (§4.7 integration stop).
func (m *Manager) Close() {
	close(m.terminate)
	<-m.done
}

// Create allocates a new Session bound to streamID with a fresh,
// process-unique 16-hex-digit ID, retrying on the negligible chance of a
// collision (§4.5).
func (m *Manager) Create(streamID string, timeout time.Duration, newSession func(id string) *session.Session) (*session.Session, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	for attempt := 0; attempt < 10; attempt++ {
		id := newSessionID()

		m.mu.Lock()
		if _, exists := m.sessions[id]; exists {
			m.mu.Unlock()
			continue
		}
		sess := newSession(id)
		m.sessions[id] = sess
		m.mu.Unlock()
		return sess, nil
	}
	return nil, fmt.Errorf("sessionmgr: could not allocate a unique session id")
}

// Lookup returns the Session for id, if any.
func (m *Manager) Lookup(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove deletes id from the table. The caller is responsible for having
// already torn down the Session itself.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of tracked sessions, for diagnostics.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// All returns a snapshot of every tracked session, e.g. for a shutdown
// sweep (§4.7).
func (m *Manager) All() []*session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *Manager) sweepLoop() {
	defer close(m.done)

	t := time.NewTicker(SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			m.sweepOnce()
		case <-m.terminate:
			return
		}
	}
}

func (m *Manager) sweepOnce() {
	for _, s := range m.All() {
		if s.IdleFor() <= s.Timeout() {
			continue
		}
		m.log.Log(logger.Info, "session %s idle timeout, tearing down", s.ID())
		if m.OnExpire != nil {
			m.OnExpire(s)
		}
		m.Remove(s.ID())
	}
}

// newSessionID generates a 16-hex-digit session identifier: the first 16
// digits of the dash-stripped hex of uuid.New() (SPEC_FULL.md §B).
func newSessionID() string {
	id := uuid.New()
	s := id.String()
	out := make([]byte, 0, len(s))
	for _, c := range s {
		if c != '-' {
			out = append(out, byte(c))
		}
	}
	return string(out)[:16]
}
