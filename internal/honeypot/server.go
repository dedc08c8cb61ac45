package honeypot

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/SomethingGeneric/aihoneypot/internal/config"
	"github.com/SomethingGeneric/aihoneypot/internal/logging"
	"github.com/SomethingGeneric/aihoneypot/internal/provider"
)

// acceptPollInterval bounds how long the accept loop blocks before checking
// the running flag again, so shutdown is noticed promptly.
const acceptPollInterval = 1 * time.Second

// shutdownGrace bounds how long ListenAndServe waits for in-flight sessions
// after the accept loop exits.
const shutdownGrace = 5 * time.Second

// Mode selects the transport the server wraps accepted connections in.
type Mode int

const (
	// ModeSSH serves the authenticated SSH transport (the default).
	ModeSSH Mode = iota
	// ModePlainTCP serves the unauthenticated fallback with a fake login
	// prompt exchange.
	ModePlainTCP
)

// Server owns the listening socket and spawns one session goroutine per
// accepted connection. Session count is unbounded: this is a honeypot, not a
// production multiplexer, and turning attackers away defeats its purpose.
type Server struct {
	addr        string
	mode        Mode
	provider    provider.Provider
	idleTimeout time.Duration
	sshConfig   *ssh.ServerConfig

	listener net.Listener
	running  atomic.Bool
	sessions sync.WaitGroup
	stopOnce sync.Once
}

// New builds a server around an already-constructed provider. In SSH mode the
// host key is loaded (or generated) here so a key problem is fatal before the
// listener opens.
func New(cfg *config.Config, p provider.Provider, mode Mode) (*Server, error) {
	s := &Server{
		addr:        cfg.Addr(),
		mode:        mode,
		provider:    p,
		idleTimeout: cfg.IdleTimeout,
	}
	if mode == ModeSSH {
		hostKey, err := LoadOrGenerateHostKey(cfg.HostKeyPath)
		if err != nil {
			return nil, fmt.Errorf("host key: %w", err)
		}
		s.sshConfig = newSSHServerConfig(hostKey)
	}
	return s, nil
}

// Running reports whether the server still accepts and serves sessions.
// Interactive sessions poll this between commands.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Listen binds the configured address. A bind failure is fatal and returned
// immediately.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.running.Store(true)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds the configured address and accepts until Stop is
// called. It blocks for the server's whole life.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop until Stop. One goroutine per accepted
// connection; accept errors while running are logged and the loop continues.
func (s *Server) Serve(ctx context.Context) error {
	ln := s.listener

	logging.Info().
		Str("addr", s.addr).
		Str("mode", s.modeName()).
		Msg("honeypot listening")

	for s.running.Load() {
		// A short accept deadline keeps the loop responsive to Stop.
		if tcpLn, ok := ln.(*net.TCPListener); ok {
			tcpLn.SetDeadline(time.Now().Add(acceptPollInterval)) //nolint:errcheck
		}

		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !s.running.Load() {
				// Errors after shutdown was requested are expected noise.
				break
			}
			logging.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			switch s.mode {
			case ModePlainTCP:
				s.handleTCPConn(ctx, conn)
			default:
				s.handleSSHConn(ctx, conn)
			}
		}()
	}

	ln.Close()
	s.waitForSessions()
	logging.Info().Msg("honeypot stopped")
	return nil
}

// Stop flips the running flag exactly once and closes the listener so the
// accept loop exits after its current poll.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

// waitForSessions gives in-flight sessions a bounded chance to notice the
// flag and finish their current command.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logging.Warn().Msg("sessions still active at shutdown")
	}
}

func (s *Server) modeName() string {
	if s.mode == ModePlainTCP {
		return "tcp"
	}
	return "ssh"
}
