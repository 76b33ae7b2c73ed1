package headless

import (
	"sync"

	"deedles.dev/wlkit/session"
)

// Session is a session.Session that is switched by hand.
type Session struct {
	seat   string
	events chan session.Event

	m      sync.Mutex
	active bool
}

// NewSession returns an active session on seat.
func NewSession(seat string) *Session {
	return &Session{
		seat:   seat,
		events: make(chan session.Event, 8),
		active: true,
	}
}

func (s *Session) Seat() string                 { return s.seat }
func (s *Session) Events() <-chan session.Event { return s.events }

func (s *Session) Active() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.active
}

// Pause deactivates the session. It does nothing if the session is
// already paused.
func (s *Session) Pause() {
	s.set(false, session.Paused)
}

// Activate activates the session. It does nothing if the session is
// already active.
func (s *Session) Activate() {
	s.set(true, session.Activated)
}

func (s *Session) set(active bool, ev session.Event) {
	s.m.Lock()
	if s.active == active {
		s.m.Unlock()
		return
	}
	s.active = active
	s.m.Unlock()

	s.events <- ev
}
