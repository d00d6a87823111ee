package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies an error by how the agent reacts to it.
type Kind string

const (
	KindNone            Kind = ""
	KindToolUnavailable Kind = "tool_unavailable"
	KindToolProtocol    Kind = "tool_protocol"
	KindTool            Kind = "tool"
	KindProvider        Kind = "provider"
	KindConfiguration   Kind = "configuration"
	KindUser            Kind = "user"
	KindCancelled       Kind = "cancelled"
)

// Error carries a Kind alongside the wrapped error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(2), fmt.Sprintf(format, a...))
}

// Newk is New with a Kind attached.
func Newk(kind Kind, format string, a ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf("[%s] %s", caller(2), fmt.Sprintf(format, a...))}
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(2), fmt.Sprintf(format, a...), err)
}

// E tags err with kind. An error that already has a kind keeps its message but
// is re-tagged. E(kind, nil) returns nil.
func E(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) && e.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// IsKind reports whether err carries kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
