package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/railserver/idgenerator"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/safemap"
)

// NewSessionFunc creates the session for an accepted connection.
type NewSessionFunc func(id uint32, conn net.Conn) TCPServerSession

// TCPServer accepts connections and hands each one to a session created by
// NewSession. Live sessions are kept in Sessions so that Stop can close all
// of them.
type TCPServer struct {
	Logger      logger.Logger
	Name        string
	Addr        string
	Listener    net.Listener
	Sessions    *safemap.SafeMap[uint32, TCPServerSession]
	Running     atomic.Bool
	NewSession  NewSessionFunc
	IdGenerator *idgenerator.IdGenerator

	// acceptMu orders handler registration against Stop so that no
	// handler is added once Wait may be running.
	acceptMu sync.Mutex
	handlers sync.WaitGroup
}

// New creates a server with an empty session registry.
func New(name, addr string, newSession NewSessionFunc, log logger.Logger) *TCPServer {
	return &TCPServer{
		Logger:      log.With(logger.F("component", "tcpserver")),
		Name:        name,
		Addr:        addr,
		Sessions:    safemap.NewSafeMap[uint32, TCPServerSession](),
		NewSession:  newSession,
		IdGenerator: idgenerator.NewIdGenerator(0),
	}
}

// Start binds Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *TCPServer) Start() error {
	if s.Running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.Listener = ln
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.F("addr", ln.Addr().String()))
	go s.AcceptLoop()

	return nil
}

// ListenAddr returns the bound address, which differs from Addr when Addr
// uses port 0.
func (s *TCPServer) ListenAddr() net.Addr {
	if s.Listener == nil {
		return nil
	}

	return s.Listener.Addr()
}

// Stop closes the listener and force-closes every live session. Handlers
// finish on their own; use Wait to join them. Safe to call when the server
// is not running.
func (s *TCPServer) Stop() {
	s.acceptMu.Lock()
	stopped := s.Running.CompareAndSwap(true, false)
	s.acceptMu.Unlock()

	if !stopped {
		s.Logger.Info(fmt.Sprintf("%s server not running", s.Name))
		return
	}

	if s.Listener != nil {
		_ = s.Listener.Close()
	}

	sessions := s.Sessions.Values()
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			s.Logger.Debug("session close failed", logger.F("session_id", session.ID()), logger.Err(err))
		}
	}

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name), logger.F("sessions", len(sessions)))
}

// Wait blocks until every session handler has returned or ctx ends. Call
// it after Stop.
func (s *TCPServer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddSession stores a session under id.
func (s *TCPServer) AddSession(id uint32, session TCPServerSession) {
	s.Sessions.Store(id, session)
}

// RemoveSession removes the session with the given id.
func (s *TCPServer) RemoveSession(id uint32) {
	s.Sessions.Delete(id)
}

// GetSession returns the session for id, if present.
func (s *TCPServer) GetSession(id uint32) (TCPServerSession, bool) {
	return s.Sessions.Load(id)
}

// AcceptLoop accepts connections until the listener is closed. Each
// connection gets an id from IdGenerator and a session from NewSession whose
// Handle runs in its own goroutine.
func (s *TCPServer) AcceptLoop() {
	for s.Running.Load() {
		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err))
			continue
		}

		id := s.IdGenerator.Id()
		session := s.NewSession(id, conn)

		s.acceptMu.Lock()
		if !s.Running.Load() {
			s.acceptMu.Unlock()
			_ = session.Close()
			return
		}

		s.AddSession(id, session)
		s.handlers.Add(1)
		s.acceptMu.Unlock()

		go func() {
			defer s.handlers.Done()
			defer s.RemoveSession(id)
			session.Handle()
		}()
	}
}
