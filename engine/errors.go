package engine

import (
	"github.com/pkg/errors"
)

// Error kinds. Match with errors.Is; the wrapped cause stays reachable.
var (
	ErrConfig        = errors.New("invalid configuration")
	ErrConnect       = errors.New("connect failed")
	ErrBind          = errors.New("bind failed")
	ErrListen        = errors.New("listen failed")
	ErrRead          = errors.New("read failed")
	ErrWrite         = errors.New("write failed")
	ErrChannelClosed = errors.New("handoff peer exited")
	ErrBusy          = errors.New("double buffer busy")
)

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Cause() error  { return e.cause }
func (e *kindError) Unwrap() error { return e.cause }

func (e *kindError) Is(target error) bool { return target == e.kind }

func withKind(kind, cause error) error {
	return &kindError{kind: kind, cause: cause}
}

func kindErrorf(kind error, format string, args ...interface{}) error {
	return &kindError{kind: kind, cause: errors.Errorf(format, args...)}
}

// IsFatal reports whether err should end the process rather than one session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrConnect) ||
		errors.Is(err, ErrBind) || errors.Is(err, ErrListen)
}
