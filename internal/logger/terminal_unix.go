//go:build unix

package logger

import "golang.org/x/sys/unix"

// isTerminal reports whether fd refers to a terminal, which enables colored
// output.
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), ioctlTermiosReq)
	return err == nil
}
