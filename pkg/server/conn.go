package server

import (
	"bufio"
	"context"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"github.com/veldtlabs/fsgate/internal/logger"
	"github.com/veldtlabs/fsgate/pkg/protocol"
	"github.com/veldtlabs/fsgate/pkg/session"
)

// conn drives one connection through its lifecycle: handshake, the
// read-dispatch-reply loop, and cleanup. The handler goroutine is the sole
// owner of the net.Conn and of the session's counters.
type conn struct {
	server  *Server
	sess    *session.Session
	netConn net.Conn
	reader  *bufio.Reader
}

func (c *conn) serve(ctx context.Context) {
	defer c.close()

	c.reader = bufio.NewReader(c.netConn)

	if !c.handshake() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.server.shutdown:
			return
		default:
		}

		line, err := c.readLine()
		if err != nil {
			if isTimeout(err) && !c.shuttingDown() {
				// Report the idle timeout to the client before tearing down.
				c.writeReply(protocol.Response{OK: false, Error: "Idle timeout, closing connection"})
				logger.Debug("session idle timeout", "address", c.sess.RemoteAddr, "identity", c.sess.Identity)
			} else {
				logger.Debug("connection read ended", "address", c.sess.RemoteAddr, "error", err)
			}
			return
		}

		c.server.registry.Touch(c.sess)
		c.server.registry.RecordIn(c.sess, len(line))
		c.server.metrics.RecordBytesIn(len(line))

		resp := c.dispatchSafely(line)
		if !c.writeReply(resp) {
			return
		}
	}
}

// handshake reads and answers the first line. Authentication never fails the
// connection: a malformed or absent handshake yields an anonymous readonly
// session rather than a rejection.
func (c *conn) handshake() bool {
	line, err := c.readLine()
	if err != nil {
		logger.Debug("handshake read failed", "address", c.sess.RemoteAddr, "error", err)
		return false
	}

	c.server.registry.RecordIn(c.sess, len(line))

	identity := "guest"
	role := session.RoleReadonly
	if hs, ok := protocol.ParseHandshake(line); ok {
		identity = hs.Username
		if hs.Token == c.server.config.AdminToken {
			role = session.RoleAdmin
		}
	}
	c.server.registry.FinalizeHandshake(c.sess, identity, role)

	logger.Info("session authenticated",
		"address", c.sess.RemoteAddr, "identity", c.sess.Identity, "role", string(role))

	return c.writeReply(protocol.Welcome{
		OK:         true,
		Role:       string(role),
		ServerRoot: c.server.config.Root,
	})
}

// readLine performs one blocking read bounded by the idle timeout.
func (c *conn) readLine() (string, error) {
	if err := c.netConn.SetReadDeadline(time.Now().Add(c.server.config.IdleTimeout)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line, nil
}

// dispatchSafely runs the dispatcher with panic recovery. A panic while
// handling a line becomes a generic failure reply; the connection stays
// open. Internal details go to the server log only.
func (c *conn) dispatchSafely(line string) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling request",
				"address", c.sess.RemoteAddr, "panic", r, "stack", string(debug.Stack()))
			resp = protocol.Response{OK: false, Error: "Internal server error"}
		}
	}()

	req := protocol.ParseRequest(line)
	return c.server.dispatcher.Dispatch(c.sess, req, strings.TrimRight(line, "\r\n"))
}

// writeReply encodes v and writes it as one line, recording outbound bytes.
// Returns false when the connection should be torn down.
func (c *conn) writeReply(v any) bool {
	data, err := protocol.Encode(v)
	if err != nil {
		logger.Error("failed to encode reply", "address", c.sess.RemoteAddr, "error", err)
		data, _ = protocol.Encode(protocol.Response{OK: false, Error: "Internal server error"})
	}
	if data == nil {
		return false
	}

	if err := c.netConn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return false
	}
	n, err := c.netConn.Write(data)
	if n > 0 {
		c.server.registry.RecordOut(c.sess, n)
		c.server.metrics.RecordBytesOut(n)
	}
	if err != nil {
		logger.Debug("write failed", "address", c.sess.RemoteAddr, "error", err)
		return false
	}
	return true
}

// close runs the terminal state exactly once per connection: deregister,
// then close the stream.
func (c *conn) close() {
	c.server.registry.Deregister(c.netConn)
	_ = c.netConn.Close()
	c.server.metrics.RecordConnectionClosed()
	c.server.metrics.SetActiveSessions(c.server.registry.Count())
	logger.Debug("connection closed", "address", c.sess.RemoteAddr, "active", c.server.registry.Count())
}

func (c *conn) shuttingDown() bool {
	select {
	case <-c.server.shutdown:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}
