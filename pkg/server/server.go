// Package server implements the FSGate TCP listener and per-connection
// request loop.
//
// One goroutine serves each accepted connection. Capacity is enforced by the
// session registry's atomic check so rejected clients still receive a busy
// reply before the connection is closed. Shutdown is graceful: the listener
// stops, blocking reads are interrupted via short deadlines, and the server
// waits for handlers up to a configurable timeout.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/veldtlabs/fsgate/internal/logger"
	"github.com/veldtlabs/fsgate/pkg/dispatch"
	"github.com/veldtlabs/fsgate/pkg/metrics"
	"github.com/veldtlabs/fsgate/pkg/protocol"
	"github.com/veldtlabs/fsgate/pkg/session"
)

// Config holds the listener and session policy settings.
type Config struct {
	Host            string
	Port            int
	Root            string
	AdminToken      string
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server accepts connections and hands each to a connection handler.
type Server struct {
	config     Config
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.GateMetrics

	listener   net.Listener
	listenerMu sync.RWMutex

	// ListenerReady is closed once the listener is accepting. Tests use it
	// to synchronize with startup.
	ListenerReady chan struct{}

	shutdown     chan struct{}
	shutdownOnce sync.Once
	activeConns  sync.WaitGroup
}

// New creates a server. The registry's capacity and the dispatcher's root
// must already be configured by the caller.
func New(cfg Config, registry *session.Registry, dispatcher *dispatch.Dispatcher, gateMetrics *metrics.GateMetrics) *Server {
	return &Server{
		config:        cfg,
		registry:      registry,
		dispatcher:    dispatcher,
		metrics:       gateMetrics,
		ListenerReady: make(chan struct{}),
		shutdown:      make(chan struct{}),
	}
}

// Addr returns the listener address, valid after ListenerReady closes.
func (s *Server) Addr() net.Addr {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled, then shuts down
// gracefully. Returns nil on graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	listenAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.ListenerReady)

	logger.Info("server listening", "address", listener.Addr().String(), "root", s.config.Root)

	go func() {
		<-ctx.Done()
		s.initiateShutdown()
	}()

	for {
		tcpConn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("accept error", "error", err)
				continue
			}
		}

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("failed to set TCP_NODELAY", "error", err)
			}
		}

		// The capacity check and registration are one atomic registry
		// operation; two racing connections can never both claim the last
		// slot.
		sess, ok := s.registry.TryRegister(tcpConn)
		if !ok {
			s.metrics.RecordConnectionRejected()
			logger.Info("connection rejected at capacity", "address", tcpConn.RemoteAddr())
			s.rejectBusy(tcpConn)
			continue
		}

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveSessions(s.registry.Count())
		logger.Debug("connection accepted", "address", sess.RemoteAddr, "active", s.registry.Count())

		s.activeConns.Add(1)
		c := &conn{server: s, sess: sess, netConn: tcpConn}
		go func() {
			defer s.activeConns.Done()
			c.serve(ctx)
		}()
	}
}

// rejectBusy sends the capacity-exceeded reply and closes the connection.
// The session was never registered, so it will not appear in any snapshot.
func (s *Server) rejectBusy(tcpConn net.Conn) {
	reply, err := protocol.Encode(protocol.Response{
		OK:    false,
		Error: "Server busy: too many active sessions",
	})
	if err == nil {
		_ = tcpConn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_, _ = tcpConn.Write(reply)
	}
	_ = tcpConn.Close()
}

// Stop triggers shutdown from outside the Serve context.
func (s *Server) Stop() {
	s.initiateShutdown()
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("shutdown initiated")
		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("listener close error", "error", err)
			}
		}
		s.listenerMu.Unlock()

		// Unblock pending reads so handlers notice the shutdown promptly.
		deadline := time.Now().Add(100 * time.Millisecond)
		s.registry.Range(func(c net.Conn) {
			if err := c.SetReadDeadline(deadline); err != nil {
				logger.Debug("failed to set shutdown deadline", "error", err)
			}
		})
	})
}

func (s *Server) gracefulShutdown() error {
	logger.Info("graceful shutdown: waiting for active connections",
		"active", s.registry.Count(), "timeout", s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.registry.Count()
		logger.Warn("shutdown timeout exceeded, forcing connection closure", "remaining", remaining)
		s.registry.Range(func(c net.Conn) {
			_ = c.Close()
		})
		return fmt.Errorf("shutdown timed out with %d connections active", remaining)
	}
}
