package dispatch

import "fmt"

// Kind classifies command-level failures. Every kind maps to a structured
// {ok:false, error} reply; none of them terminates the connection.
type Kind int

const (
	// KindUsage marks malformed or missing arguments.
	KindUsage Kind = iota
	// KindNotFound marks a missing file or directory.
	KindNotFound
	// KindPermissionDenied marks a failed role check.
	KindPermissionDenied
	// KindOutsideRoot marks a sandbox violation.
	KindOutsideRoot
	// KindIOFailure marks an underlying read/write/delete failure.
	KindIOFailure
	// KindUnknownCommand marks an unrecognized command word.
	KindUnknownCommand
	// KindServerFault marks an unexpected internal error.
	KindServerFault
)

// Error is a command-level failure carrying its taxonomy kind and the
// client-facing message. The message never embeds raw system error detail;
// underlying causes go to the server log only.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func usageErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindUsage, Message: fmt.Sprintf(format, args...)}
}

func notFoundErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func ioError(message string) *Error {
	return &Error{Kind: KindIOFailure, Message: message}
}

// errAdminOnly is the exact denial sent to readonly sessions that invoke an
// admin command, regardless of argument validity.
var errAdminOnly = &Error{Kind: KindPermissionDenied, Message: "Permission denied: admin only"}

// errOutsideRoot is sent when path resolution escapes the sandbox.
var errOutsideRoot = &Error{Kind: KindOutsideRoot, Message: "Path outside server root"}
