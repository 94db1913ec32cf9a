// Package session owns the single engine handle a caller operates on.
//
// A Session moves Uninitialized -> Active -> Closed and may re-enter Active
// from Closed. It is not safe for concurrent use: callers must keep at most
// one logical call in flight per Session, including Initialize and
// Deinitialize. Distinct Sessions are independent.
package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/menta2k/cryptonet/pkg/engine"
)

var (
	// ErrNoActiveSession is returned when an operation needs a handle and none is live.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionActive is returned by Initialize when a handle is already live.
	ErrSessionActive = errors.New("session already active")
	// ErrInitializationFailed is returned when the engine refuses to create a session.
	ErrInitializationFailed = errors.New("session initialization failed")
)

// State is the lifecycle state of a Session.
type State int

const (
	Uninitialized State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session wraps one opaque engine handle.
type Session struct {
	engine engine.Engine
	logger *zap.Logger
	handle engine.Handle
	state  State
}

// New creates an Uninitialized session bound to eng.
func New(eng engine.Engine, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{engine: eng, logger: logger.Named("session")}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Initialize asks the engine for a new handle using the settings payload.
// On failure the state is left unchanged.
func (s *Session) Initialize(settings []byte) error {
	if s.state == Active {
		return ErrSessionActive
	}
	h, ok := s.engine.InitializeSession(settings)
	if !ok {
		s.logger.Warn("engine rejected session initialization",
			zap.Int("settings_bytes", len(settings)),
			zap.Stringer("state", s.state))
		return ErrInitializationFailed
	}
	s.handle = h
	s.state = Active
	s.logger.Info("session initialized")
	return nil
}

// Deinitialize releases the engine handle and moves to Closed. It fails
// without side effects when the session is not Active.
func (s *Session) Deinitialize() error {
	if s.state != Active {
		return ErrNoActiveSession
	}
	h := s.handle
	s.handle = 0
	s.state = Closed
	s.engine.DeinitializeSession(h)
	s.logger.Info("session closed")
	return nil
}

// Handle returns the live handle, or ErrNoActiveSession without touching
// the engine.
func (s *Session) Handle() (engine.Handle, error) {
	if s.state != Active {
		return 0, ErrNoActiveSession
	}
	return s.handle, nil
}
