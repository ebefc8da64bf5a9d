//go:build windows

package logger

// Colored output is disabled on Windows; plain text is always valid there.
func isTerminal(uintptr) bool { return false }
