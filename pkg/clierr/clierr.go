package clierr

import "errors"

// Type categorizes a CLI-facing error for consistent messaging and exit codes.
type Type string

const (
	Validation Type = "validation"
	Auth       Type = "auth"
	Network    Type = "network"
	NotFound   Type = "not_found"
	Internal   Type = "internal"
)

// Error is a structured user-facing error.
type Error struct {
	Type    Type
	Message string
	Err     error // optional underlying error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// New constructs a new CLI Error.
func New(t Type, msg string, err error) *Error { return &Error{Type: t, Message: msg, Err: err} }

// ExitCode maps err to the process exit status. Errors that are not CLI errors exit with 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *Error
	if !errors.As(err, &ce) {
		return 1
	}
	switch ce.Type {
	case Validation:
		return 2
	case Auth:
		return 3
	case Network:
		return 4
	case NotFound:
		return 5
	default:
		return 1
	}
}
