// Package msglog appends every received request line to an on-disk log.
//
// Logging is fire-and-forget: entries are handed to a background writer over
// a buffered channel, and a full channel or failing disk drops entries
// rather than stalling or failing the command that produced them.
package msglog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/veldtlabs/fsgate/internal/logger"
)

type entry struct {
	at       time.Time
	identity string
	addr     string
	line     string
}

// Writer is the append-only message log.
type Writer struct {
	path      string
	ch        chan entry
	done      chan struct{}
	closeOnce sync.Once
}

// NewWriter opens (creating if needed) the log at path and starts the
// background writer goroutine.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open message log %q: %w", path, err)
	}

	w := &Writer{
		path: path,
		ch:   make(chan entry, 256),
		done: make(chan struct{}),
	}
	go w.run(f)
	return w, nil
}

// Append queues one request line for logging. Never blocks; entries are
// dropped when the queue is full.
func (w *Writer) Append(identity, addr, line string) {
	e := entry{at: time.Now(), identity: identity, addr: addr, line: line}
	select {
	case w.ch <- e:
	default:
		logger.Debug("message log queue full, dropping entry", "address", addr)
	}
}

// Close flushes queued entries and stops the writer. Safe to call multiple
// times.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.ch)
		<-w.done
	})
}

func (w *Writer) run(f *os.File) {
	defer close(w.done)
	defer f.Close()

	for e := range w.ch {
		record := fmt.Sprintf("%s\t%s\t%s\t%s\n",
			e.at.Format(time.RFC3339), e.identity, e.addr, e.line)
		if _, err := f.WriteString(record); err != nil {
			// Best effort only; the command that produced the line already
			// succeeded or failed on its own terms.
			logger.Warn("message log write failed", "path", w.path, "error", err)
		}
	}
}
