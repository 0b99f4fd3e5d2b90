package board

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/teamboard/access"
	"github.com/GoCodeAlone/teamboard/agent"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the transport side of a session.
type Conn interface {
	// Deliver queues a room broadcast without blocking. It returns false
	// when the connection cannot take it.
	Deliver(data []byte) bool
	// Reply queues a direct reply, waiting for queue space until ctx is done
	// or the connection closes.
	Reply(ctx context.Context, data []byte) error
}

// maxPending bounds broadcasts held while a session is still connecting.
const maxPending = 256

var errSessionClosed = errors.New("session closed")

// Session is the per-connection protocol state. It moves from Connecting to
// Subscribed to Closed and never back.
type Session struct {
	id        string
	identity  access.Identity
	projectID string
	conn      Conn

	state atomic.Int32

	mu       sync.Mutex
	pending  [][]byte // room events that arrived before the connected event
	presence *agent.Presence
	leave    func()
}

// NewSession returns a session in the Connecting state.
func NewSession(identity access.Identity, projectID string, conn Conn) *Session {
	return &Session{
		id:        uuid.New().String(),
		identity:  identity,
		projectID: projectID,
		conn:      conn,
	}
}

// ID returns the session id announced in the connected event.
func (s *Session) ID() string { return s.id }

// Identity returns the authenticated principal.
func (s *Session) Identity() access.Identity { return s.identity }

// ProjectID returns the room this session subscribes to.
func (s *Session) ProjectID() string { return s.projectID }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Presence returns the agent presence announced on this session, if any.
func (s *Session) Presence() (agent.Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presence == nil {
		return agent.Presence{}, false
	}
	return *s.presence, true
}

func (s *Session) setPresence(p agent.Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = &p
}

// Deliver implements ws.Client. Events that arrive before the connected
// event is queued are held and flushed right after it.
func (s *Session) Deliver(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case StateConnecting:
		if len(s.pending) >= maxPending {
			return false
		}
		s.pending = append(s.pending, data)
		return true
	case StateSubscribed:
		return s.conn.Deliver(data)
	}
	return false
}

// activate queues the connected event, flushes held broadcasts and marks
// the session subscribed.
func (s *Session) activate(connected []byte, leave func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateConnecting {
		return false
	}
	s.leave = leave
	if !s.conn.Deliver(connected) {
		return false
	}
	for _, data := range s.pending {
		s.conn.Deliver(data)
	}
	s.pending = nil
	s.state.Store(int32(StateSubscribed))
	return true
}

// close moves the session to Closed and returns the room leave func to run.
func (s *Session) close() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Store(int32(StateClosed))
	s.pending = nil
	leave := s.leave
	s.leave = nil
	return leave
}

func (s *Session) reply(ctx context.Context, data []byte) error {
	if s.State() == StateClosed {
		return errSessionClosed
	}
	return s.conn.Reply(ctx, data)
}
