// Package stats persists periodic point-in-time summaries of server state.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/veldtlabs/fsgate/internal/logger"
	"github.com/veldtlabs/fsgate/pkg/session"
)

// Snapshotter periodically reads the session registry and overwrites a JSON
// report file. Reporting is best-effort: write failures are logged and
// swallowed, never fatal to serving.
type Snapshotter struct {
	registry *session.Registry
	path     string
	interval time.Duration
}

// New creates a snapshotter writing to path every interval.
func New(registry *session.Registry, path string, interval time.Duration) *Snapshotter {
	return &Snapshotter{
		registry: registry,
		path:     path,
		interval: interval,
	}
}

// Run writes snapshots until ctx is cancelled. Intended to be launched as a
// goroutine with a lifetime independent of any single connection.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final snapshot so the report reflects the shutdown state.
			s.WriteOnce()
			return
		case <-ticker.C:
			s.WriteOnce()
		}
	}
}

// WriteOnce takes one snapshot and overwrites the report file atomically
// (write to a temp file, then rename).
func (s *Snapshotter) WriteOnce() {
	snap := s.registry.TakeSnapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		logger.Warn("stats snapshot marshal failed", "error", err)
		return
	}

	tmp := fmt.Sprintf("%s.tmp", s.path)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logger.Warn("stats snapshot write failed", "path", s.path, "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		logger.Warn("stats snapshot rename failed", "path", s.path, "error", err)
		_ = os.Remove(tmp)
		return
	}

	logger.Debug("stats snapshot written",
		"path", filepath.Base(s.path),
		"active", snap.ActiveCount,
		"bytes_in", snap.TotalBytesIn,
		"bytes_out", snap.TotalBytesOut)
}
