package dispatch

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/fsgate/pkg/protocol"
	"github.com/veldtlabs/fsgate/pkg/session"
)

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha.txt"), []byte("first file"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "beta.bin"), []byte{0x00, 0x01, 0xff}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "report.txt"), []byte("quarterly"), 0644))
	return &Dispatcher{Root: root}
}

func adminSession() *session.Session {
	return &session.Session{Identity: "admin", Role: session.RoleAdmin, RemoteAddr: "test"}
}

func guestSession() *session.Session {
	return &session.Session{Identity: "guest", Role: session.RoleReadonly, RemoteAddr: "test"}
}

func dispatch(d *Dispatcher, sess *session.Session, cmd string, args ...string) protocol.Response {
	return d.Dispatch(sess, protocol.Request{Cmd: cmd, Args: args}, cmd)
}

func TestPing(t *testing.T) {
	d := newDispatcher(t)
	resp := dispatch(d, guestSession(), "ping")
	assert.True(t, resp.OK)
	assert.Equal(t, "pong", resp.Data)
}

func TestListRoot(t *testing.T) {
	d := newDispatcher(t)
	resp := dispatch(d, guestSession(), "list")
	require.True(t, resp.OK)

	entries, ok := resp.Data.([]protocol.ListEntry)
	require.True(t, ok)
	require.Len(t, entries, 3)

	// Entries come back sorted by name.
	assert.Equal(t, "alpha.txt", entries[0].Name)
	assert.Equal(t, "beta.bin", entries[1].Name)
	assert.Equal(t, "docs", entries[2].Name)

	assert.False(t, entries[0].IsDir)
	assert.Equal(t, int64(len("first file")), entries[0].Size)
	assert.True(t, entries[2].IsDir)
}

func TestListSubdirectoryAndMissing(t *testing.T) {
	d := newDispatcher(t)

	resp := dispatch(d, guestSession(), "list", "docs")
	require.True(t, resp.OK)
	entries := resp.Data.([]protocol.ListEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.txt", entries[0].Name)

	resp = dispatch(d, guestSession(), "list", "nope")
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "not found")
}

func TestReadFile(t *testing.T) {
	d := newDispatcher(t)

	resp := dispatch(d, guestSession(), "read", "alpha.txt")
	require.True(t, resp.OK)
	assert.Equal(t, "first file", resp.Data)

	resp = dispatch(d, guestSession(), "read", "missing.txt")
	assert.False(t, resp.OK)
	assert.Equal(t, "File not found: missing.txt", resp.Error)

	resp = dispatch(d, guestSession(), "read")
	assert.False(t, resp.OK)
	assert.Equal(t, "Usage: read <file>", resp.Error)
}

func TestReadDropsInvalidUTF8(t *testing.T) {
	d := newDispatcher(t)
	resp := dispatch(d, guestSession(), "read", "beta.bin")
	require.True(t, resp.OK)

	text, ok := resp.Data.(string)
	require.True(t, ok)
	assert.Equal(t, "\x00\x01", text)
}

func TestTraversalRejectedWithoutFilesystemAccess(t *testing.T) {
	d := newDispatcher(t)

	for _, cmd := range []string{"read", "download", "list"} {
		resp := dispatch(d, guestSession(), cmd, "../../etc/passwd")
		assert.False(t, resp.OK, cmd)
		assert.Equal(t, "Path outside server root", resp.Error, cmd)
	}

	resp := dispatch(d, adminSession(), "delete", "../outside.txt")
	assert.False(t, resp.OK)
	assert.Equal(t, "Path outside server root", resp.Error)
}

func TestAdminGatePrecedesArgValidation(t *testing.T) {
	d := newDispatcher(t)

	// Even argument-less invocations of admin commands answer with the
	// permission error, never a usage hint.
	for _, cmd := range []string{"upload", "delete", "search", "info"} {
		resp := dispatch(d, guestSession(), cmd)
		assert.False(t, resp.OK, cmd)
		assert.Equal(t, "Permission denied: admin only", resp.Error, cmd)
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	d := newDispatcher(t)
	payload := []byte("binary \x00 payload \xff bytes")
	encoded := base64.StdEncoding.EncodeToString(payload)

	resp := dispatch(d, adminSession(), "upload", "docs/new/blob.bin", encoded)
	require.True(t, resp.OK, resp.Error)

	resp = dispatch(d, guestSession(), "download", "docs/new/blob.bin")
	require.True(t, resp.OK, resp.Error)

	got, ok := resp.Data.(protocol.FilePayload)
	require.True(t, ok)
	assert.Equal(t, "blob.bin", got.Name)

	decoded, err := base64.StdEncoding.DecodeString(got.Content)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestUploadRejectsBadBase64(t *testing.T) {
	d := newDispatcher(t)
	resp := dispatch(d, adminSession(), "upload", "x.bin", "not-base64!!!")
	assert.False(t, resp.OK)
	assert.Equal(t, "Invalid base64 payload", resp.Error)
}

func TestDelete(t *testing.T) {
	d := newDispatcher(t)

	resp := dispatch(d, adminSession(), "delete", "alpha.txt")
	require.True(t, resp.OK)
	_, err := os.Stat(filepath.Join(d.Root, "alpha.txt"))
	assert.True(t, os.IsNotExist(err))

	resp = dispatch(d, adminSession(), "delete", "alpha.txt")
	assert.False(t, resp.OK)
	assert.Equal(t, "Not found: alpha.txt", resp.Error)

	resp = dispatch(d, adminSession(), "delete", "docs")
	assert.False(t, resp.OK)
	assert.Equal(t, "Refusing to delete a directory: docs", resp.Error)
	_, err = os.Stat(filepath.Join(d.Root, "docs"))
	assert.NoError(t, err)
}

func TestSearch(t *testing.T) {
	d := newDispatcher(t)

	resp := dispatch(d, adminSession(), "search", "RePoRt")
	require.True(t, resp.OK)
	matches, ok := resp.Data.([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"docs/report.txt"}, matches)

	resp = dispatch(d, adminSession(), "search", "zzz")
	require.True(t, resp.OK)
	assert.Empty(t, resp.Data)

	resp = dispatch(d, adminSession(), "search", "")
	assert.False(t, resp.OK)
	assert.Equal(t, "Usage: search <keyword>", resp.Error)
}

func TestInfo(t *testing.T) {
	d := newDispatcher(t)

	resp := dispatch(d, adminSession(), "info", "alpha.txt")
	require.True(t, resp.OK)

	info, ok := resp.Data.(protocol.FileInfo)
	require.True(t, ok)
	assert.Equal(t, "alpha.txt", info.Name)
	assert.Equal(t, int64(len("first file")), info.Size)
	assert.False(t, info.IsDir)

	_, err := time.Parse(time.RFC3339, info.Modified)
	assert.NoError(t, err)
	_, err = time.Parse(time.RFC3339, info.Created)
	assert.NoError(t, err)

	resp = dispatch(d, adminSession(), "info", "missing")
	assert.False(t, resp.OK)
	assert.Equal(t, "Not found: missing", resp.Error)
}

func TestUnknownCommand(t *testing.T) {
	d := newDispatcher(t)
	resp := dispatch(d, guestSession(), "frobnicate")
	assert.False(t, resp.OK)
	assert.Equal(t, "Unknown command: frobnicate", resp.Error)
}

func TestCommandsAreCaseInsensitive(t *testing.T) {
	d := newDispatcher(t)
	resp := dispatch(d, guestSession(), "PING")
	assert.True(t, resp.OK)
	assert.Equal(t, "pong", resp.Data)
}

func TestReadonlyDelayApplied(t *testing.T) {
	d := newDispatcher(t)
	d.ReadonlyDelay = 30 * time.Millisecond

	start := time.Now()
	dispatch(d, guestSession(), "ping")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	start = time.Now()
	dispatch(d, adminSession(), "ping")
	assert.Less(t, time.Since(start), 30*time.Millisecond)
}

type recordedCommand struct {
	cmd string
	ok  bool
}

type fakeRecorder struct {
	calls []recordedCommand
}

func (f *fakeRecorder) RecordCommand(cmd string, ok bool) {
	f.calls = append(f.calls, recordedCommand{cmd, ok})
}

func TestMetricsObserveEveryCommand(t *testing.T) {
	d := newDispatcher(t)
	rec := &fakeRecorder{}
	d.Metrics = rec

	dispatch(d, guestSession(), "ping")
	dispatch(d, guestSession(), "upload")

	require.Len(t, rec.calls, 2)
	assert.Equal(t, recordedCommand{"ping", true}, rec.calls[0])
	assert.Equal(t, recordedCommand{"upload", false}, rec.calls[1])
}
