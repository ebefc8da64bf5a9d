//go:build linux

package dispatch

import (
	"os"
	"syscall"
	"time"
)

// createdTime returns the closest thing Linux offers to a creation time:
// the inode change time from the underlying stat.
func createdTime(info os.FileInfo) time.Time {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
	}
	return info.ModTime()
}
