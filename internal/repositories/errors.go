package repositories

import "fmt"

// Kind classifies repository failures for services.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// Error is the RepositoryError used by the in-memory and Redis backends.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "repository error"
	switch e.Kind {
	case KindNotFound:
		msg = "not found"
	case KindConflict:
		msg = "conflict"
	case KindUnavailable:
		msg = "unavailable"
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool { return e != nil && e.Kind == KindNotFound }

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool { return e != nil && e.Kind == KindConflict }

// IsUnavailable reports whether the backend is temporarily unavailable.
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// NotFound builds a not-found repository error.
func NotFound(op string) *Error {
	return &Error{Op: op, Kind: KindNotFound}
}

// Conflict builds a conflict repository error.
func Conflict(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConflict, Err: err}
}

// Unavailable builds an unavailable repository error.
func Unavailable(op string, err error) *Error {
	return &Error{Op: op, Kind: KindUnavailable, Err: err}
}
