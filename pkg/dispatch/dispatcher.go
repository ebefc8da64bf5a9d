// Package dispatch maps parsed commands to structured results.
//
// The dispatcher enforces role checks, resolves every client path through
// the sandbox, and converts all filesystem failures into reply-level errors.
// It never panics outward and never closes the connection; transport
// concerns belong to the server package.
package dispatch

import (
	"encoding/base64"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/veldtlabs/fsgate/internal/logger"
	"github.com/veldtlabs/fsgate/pkg/msglog"
	"github.com/veldtlabs/fsgate/pkg/protocol"
	"github.com/veldtlabs/fsgate/pkg/sandbox"
	"github.com/veldtlabs/fsgate/pkg/session"
)

// CommandRecorder receives one observation per dispatched command. A nil
// recorder disables metrics with no overhead.
type CommandRecorder interface {
	RecordCommand(cmd string, ok bool)
}

// Dispatcher executes commands against the sandboxed root.
type Dispatcher struct {
	// Root is the absolute sandbox root directory.
	Root string

	// ReadonlyDelay is the artificial delay applied before processing
	// commands from readonly sessions. Zero disables it.
	ReadonlyDelay time.Duration

	// Log receives every raw request line. Optional.
	Log *msglog.Writer

	// Metrics receives per-command observations. Optional.
	Metrics CommandRecorder
}

// adminCommands are gated on the Admin role. The role check runs before any
// argument validation.
var adminCommands = map[string]bool{
	"upload": true,
	"delete": true,
	"search": true,
	"info":   true,
}

// Dispatch executes one command for sess and returns the structured reply.
// rawLine is the line as received, recorded verbatim in the message log.
func (d *Dispatcher) Dispatch(sess *session.Session, req protocol.Request, rawLine string) protocol.Response {
	if d.Log != nil {
		d.Log.Append(sess.Identity, sess.RemoteAddr, rawLine)
	}

	if !sess.IsAdmin() && d.ReadonlyDelay > 0 {
		time.Sleep(d.ReadonlyDelay)
	}

	data, err := d.execute(sess, req)

	resp := protocol.Response{OK: err == nil, Data: data}
	if err != nil {
		resp.Error = err.Message
	}
	if d.Metrics != nil {
		d.Metrics.RecordCommand(req.Cmd, resp.OK)
	}
	return resp
}

func (d *Dispatcher) execute(sess *session.Session, req protocol.Request) (any, *Error) {
	cmd := strings.ToLower(req.Cmd)

	if adminCommands[cmd] && !sess.IsAdmin() {
		return nil, errAdminOnly
	}

	switch cmd {
	case "ping":
		return "pong", nil
	case "list":
		return d.list(req.Args)
	case "read":
		return d.read(req.Args)
	case "download":
		return d.download(req.Args)
	case "upload":
		return d.upload(req.Args)
	case "delete":
		return d.delete(req.Args)
	case "search":
		return d.search(req.Args)
	case "info":
		return d.info(req.Args)
	default:
		return nil, &Error{Kind: KindUnknownCommand, Message: "Unknown command: " + req.Cmd}
	}
}

func (d *Dispatcher) resolve(rel string) (string, *Error) {
	path, err := sandbox.Resolve(d.Root, rel)
	if err != nil {
		if os.IsNotExist(err) {
			return "", notFoundErrorf("Not found: %s", rel)
		}
		return "", errOutsideRoot
	}
	return path, nil
}

func (d *Dispatcher) list(args []string) (any, *Error) {
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}

	path, derr := d.resolve(dir)
	if derr != nil {
		return nil, derr
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, notFoundErrorf("Directory not found: %s", displayName(dir))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	listing := make([]protocol.ListEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Raced with a concurrent delete; skip rather than fail the listing.
			continue
		}
		listing = append(listing, protocol.ListEntry{
			Name:  entry.Name(),
			IsDir: entry.IsDir(),
			Size:  info.Size(),
		})
	}
	return listing, nil
}

func (d *Dispatcher) read(args []string) (any, *Error) {
	if len(args) < 1 {
		return nil, usageErrorf("Usage: read <file>")
	}

	path, derr := d.resolve(args[0])
	if derr != nil {
		return nil, derr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFoundErrorf("File not found: %s", args[0])
		}
		logger.Debug("read failed", "path", path, "error", err)
		return nil, ioError("Read failed")
	}

	// Best-effort text decode: invalid byte sequences are dropped, not fatal.
	return strings.ToValidUTF8(string(data), ""), nil
}

func (d *Dispatcher) download(args []string) (any, *Error) {
	if len(args) < 1 {
		return nil, usageErrorf("Usage: download <file>")
	}

	path, derr := d.resolve(args[0])
	if derr != nil {
		return nil, derr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFoundErrorf("File not found: %s", args[0])
		}
		logger.Debug("download failed", "path", path, "error", err)
		return nil, ioError("Read failed")
	}

	return protocol.FilePayload{
		Name:    filepath.Base(path),
		Content: base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (d *Dispatcher) upload(args []string) (any, *Error) {
	if len(args) < 2 {
		return nil, usageErrorf("Usage: upload <file> <base64>")
	}

	path, derr := d.resolve(args[0])
	if derr != nil {
		return nil, derr
	}

	data, err := base64.StdEncoding.DecodeString(args[1])
	if err != nil {
		return nil, usageErrorf("Invalid base64 payload")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logger.Debug("upload mkdir failed", "path", path, "error", err)
		return nil, ioError("Write failed")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.Debug("upload write failed", "path", path, "error", err)
		return nil, ioError("Write failed")
	}

	return map[string]any{"written": len(data), "name": sandbox.Rel(d.Root, path)}, nil
}

func (d *Dispatcher) delete(args []string) (any, *Error) {
	if len(args) < 1 {
		return nil, usageErrorf("Usage: delete <file>")
	}

	path, derr := d.resolve(args[0])
	if derr != nil {
		return nil, derr
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, notFoundErrorf("Not found: %s", args[0])
	}
	if info.IsDir() {
		// Directories are never deleted through this interface.
		return nil, usageErrorf("Refusing to delete a directory: %s", args[0])
	}

	if err := os.Remove(path); err != nil {
		logger.Debug("delete failed", "path", path, "error", err)
		return nil, ioError("Delete failed")
	}
	return "deleted", nil
}

func (d *Dispatcher) search(args []string) (any, *Error) {
	if len(args) < 1 || args[0] == "" {
		return nil, usageErrorf("Usage: search <keyword>")
	}
	keyword := strings.ToLower(args[0])

	matches := []string{}
	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			return nil
		}
		if path == d.Root {
			return nil
		}
		if strings.Contains(strings.ToLower(entry.Name()), keyword) {
			matches = append(matches, sandbox.Rel(d.Root, path))
		}
		return nil
	})
	if err != nil {
		logger.Debug("search walk failed", "root", d.Root, "error", err)
		return nil, ioError("Search failed")
	}

	sort.Strings(matches)
	return matches, nil
}

func (d *Dispatcher) info(args []string) (any, *Error) {
	if len(args) < 1 {
		return nil, usageErrorf("Usage: info <file>")
	}

	path, derr := d.resolve(args[0])
	if derr != nil {
		return nil, derr
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, notFoundErrorf("Not found: %s", args[0])
	}

	return protocol.FileInfo{
		Name:     stat.Name(),
		Size:     stat.Size(),
		IsDir:    stat.IsDir(),
		Created:  createdTime(stat).Format(time.RFC3339),
		Modified: stat.ModTime().Format(time.RFC3339),
	}, nil
}

func displayName(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}
