package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/fsgate/pkg/dispatch"
	"github.com/veldtlabs/fsgate/pkg/protocol"
	"github.com/veldtlabs/fsgate/pkg/session"
)

const testAdminToken = "test-admin-token"

type testServer struct {
	server   *Server
	registry *session.Registry
	root     string
	done     chan error
}

func startServer(t *testing.T, maxSessions int, idleTimeout time.Duration) *testServer {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi there"), 0644))

	registry := session.NewRegistry(maxSessions)
	dispatcher := &dispatch.Dispatcher{Root: root}
	srv := New(Config{
		Host:            "127.0.0.1",
		Port:            0,
		Root:            root,
		AdminToken:      testAdminToken,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: 5 * time.Second,
	}, registry, dispatcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	select {
	case <-srv.ListenerReady:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start listening")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return &testServer{server: srv, registry: registry, root: root, done: done}
}

type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialTest(t *testing.T, ts *testServer) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", ts.server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) sendLine(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *testClient) readJSON(t *testing.T, target any) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(line), target))
}

// handshake authenticates and returns the granted role.
func (c *testClient) handshake(t *testing.T, username, token string) string {
	t.Helper()
	payload, err := json.Marshal(protocol.Handshake{Username: username, Token: token})
	require.NoError(t, err)
	c.sendLine(t, string(payload))

	var welcome protocol.Welcome
	c.readJSON(t, &welcome)
	require.True(t, welcome.OK)
	return welcome.Role
}

func (c *testClient) do(t *testing.T, cmd string, args ...string) protocol.Response {
	t.Helper()
	payload, err := json.Marshal(protocol.Request{Cmd: cmd, Args: args})
	require.NoError(t, err)
	c.sendLine(t, string(payload))

	var resp protocol.Response
	c.readJSON(t, &resp)
	return resp
}

func TestHandshakeRoles(t *testing.T) {
	ts := startServer(t, 8, 30*time.Second)

	t.Run("admin token grants admin", func(t *testing.T) {
		c := dialTest(t, ts)
		assert.Equal(t, "admin", c.handshake(t, "alice", testAdminToken))
	})

	t.Run("wrong token downgrades to readonly", func(t *testing.T) {
		c := dialTest(t, ts)
		assert.Equal(t, "readonly", c.handshake(t, "bob", "wrong"))
	})

	t.Run("legacy auth form", func(t *testing.T) {
		c := dialTest(t, ts)
		c.sendLine(t, "AUTH carol "+testAdminToken)
		var welcome protocol.Welcome
		c.readJSON(t, &welcome)
		assert.True(t, welcome.OK)
		assert.Equal(t, "admin", welcome.Role)
	})

	t.Run("malformed handshake becomes guest", func(t *testing.T) {
		c := dialTest(t, ts)
		c.sendLine(t, "not a handshake at all")
		var welcome protocol.Welcome
		c.readJSON(t, &welcome)
		assert.True(t, welcome.OK)
		assert.Equal(t, "readonly", welcome.Role)

		// The session keeps working as guest.
		resp := c.do(t, "ping")
		assert.True(t, resp.OK)
	})
}

func TestCommandsOverTheWire(t *testing.T) {
	ts := startServer(t, 8, 30*time.Second)

	admin := dialTest(t, ts)
	admin.handshake(t, "alice", testAdminToken)

	guest := dialTest(t, ts)
	guest.handshake(t, "bob", "")

	resp := guest.do(t, "read", "hello.txt")
	require.True(t, resp.OK)
	assert.Equal(t, "hi there", resp.Data)

	resp = guest.do(t, "delete", "hello.txt")
	assert.False(t, resp.OK)
	assert.Equal(t, "Permission denied: admin only", resp.Error)

	resp = admin.do(t, "delete", "hello.txt")
	require.True(t, resp.OK)
	_, err := os.Stat(filepath.Join(ts.root, "hello.txt"))
	assert.True(t, os.IsNotExist(err))

	resp = guest.do(t, "read", "../../../etc/passwd")
	assert.False(t, resp.OK)
	assert.Equal(t, "Path outside server root", resp.Error)
}

func TestPlainTextRequests(t *testing.T) {
	ts := startServer(t, 8, 30*time.Second)

	c := dialTest(t, ts)
	c.handshake(t, "alice", "")

	c.sendLine(t, "ping")
	var resp protocol.Response
	c.readJSON(t, &resp)
	assert.True(t, resp.OK)
	assert.Equal(t, "pong", resp.Data)

	c.sendLine(t, "what files do you have")
	c.readJSON(t, &resp)
	assert.False(t, resp.OK)
	assert.Equal(t, "Unknown command: what", resp.Error)
}

func TestCapacityRejection(t *testing.T) {
	ts := startServer(t, 2, 30*time.Second)

	first := dialTest(t, ts)
	first.handshake(t, "a", "")
	second := dialTest(t, ts)
	second.handshake(t, "b", "")

	// The third connection is rejected before any handshake.
	third := dialTest(t, ts)
	var resp protocol.Response
	third.readJSON(t, &resp)
	assert.False(t, resp.OK)
	assert.Equal(t, "Server busy: too many active sessions", resp.Error)

	// The rejected connection never occupied a slot.
	assert.Equal(t, 2, ts.registry.Count())

	// Closing an admitted session frees its slot for the next client.
	first.conn.Close()
	require.Eventually(t, func() bool { return ts.registry.Count() == 1 },
		5*time.Second, 10*time.Millisecond)

	fourth := dialTest(t, ts)
	assert.Equal(t, "readonly", fourth.handshake(t, "d", ""))
}

func TestIdleTimeout(t *testing.T) {
	ts := startServer(t, 8, 300*time.Millisecond)

	c := dialTest(t, ts)
	c.handshake(t, "alice", "")
	require.Equal(t, 1, ts.registry.Count())

	// Stay silent past the idle limit; the server reports the timeout and
	// closes from its side.
	var resp protocol.Response
	c.readJSON(t, &resp)
	assert.False(t, resp.OK)
	assert.Equal(t, "Idle timeout, closing connection", resp.Error)

	_, err := c.reader.ReadString('\n')
	assert.Error(t, err)

	require.Eventually(t, func() bool { return ts.registry.Count() == 0 },
		5*time.Second, 10*time.Millisecond)
}

func TestActivityResetsIdleClock(t *testing.T) {
	ts := startServer(t, 8, 500*time.Millisecond)

	c := dialTest(t, ts)
	c.handshake(t, "alice", "")

	// Keep pinging at a cadence shorter than the idle limit; the session
	// must survive well past a single timeout window.
	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		resp := c.do(t, "ping")
		require.True(t, resp.OK)
		time.Sleep(100 * time.Millisecond)
	}
	assert.Equal(t, 1, ts.registry.Count())
}

func TestGracefulShutdown(t *testing.T) {
	ts := startServer(t, 8, 30*time.Second)

	c := dialTest(t, ts)
	c.handshake(t, "alice", "")

	ts.server.Stop()

	select {
	case err := <-ts.done:
		// Put the result back for the startServer cleanup, which also waits
		// on this channel.
		ts.done <- err
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	// The listener is gone.
	_, err := net.DialTimeout("tcp", ts.server.Addr().String(), time.Second)
	assert.Error(t, err)
}

func TestSessionCountersTracked(t *testing.T) {
	ts := startServer(t, 8, 30*time.Second)

	c := dialTest(t, ts)
	c.handshake(t, "alice", "")
	c.do(t, "ping")
	c.do(t, "ping")

	snap := ts.registry.TakeSnapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "alice", snap.Sessions[0].Identity)
	assert.Equal(t, uint64(2), snap.Sessions[0].MessageCount)
	assert.Greater(t, snap.TotalBytesIn, uint64(0))
	assert.Greater(t, snap.TotalBytesOut, uint64(0))
}
