// Package errdefs classifies failures of the execution layer and the run
// orchestrator so callers can react by kind instead of by message.
package errdefs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies a class of failure.
type Kind string

const (
	// KindConnection means the remote session is unreachable or was lost.
	// The session is discarded and recreated lazily on next use.
	KindConnection Kind = "ConnectionError"
	// KindPermission means privilege elevation could not be established.
	KindPermission Kind = "PermissionError"
	// KindConfiguration means required target identity is missing or invalid.
	KindConfiguration Kind = "ConfigurationError"
	// KindProtocolParse means a driver marker line could not be parsed.
	KindProtocolParse Kind = "ProtocolParseError"
	// KindProcessFailure means the driver exited with a nonzero code.
	KindProcessFailure Kind = "ProcessFailure"
	// KindSync means a file transfer to or from the target failed.
	KindSync Kind = "SyncFailure"
	// KindConflict means a run was requested while another one is active.
	KindConflict Kind = "Conflict"
	// KindNotFound means the requested object does not exist.
	KindNotFound Kind = "NotFound"
	// KindUnknown is reported for errors that carry no kind.
	KindUnknown Kind = "Unknown"
)

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf is New with a formatted message.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(err error, kind Kind, op, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether any classified error in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
