package engine

import (
	"io"
	"testing"

	"github.com/pkg/errors"
)

func isKind(err, kind error) bool {
	return errors.Is(err, kind)
}

func TestKindError(t *testing.T) {
	err := withKind(ErrWrite, io.ErrShortWrite)
	if !errors.Is(err, ErrWrite) {
		t.Errorf("%v does not match ErrWrite", err)
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("%v lost its cause", err)
	}
	if errors.Is(err, ErrRead) {
		t.Errorf("%v matches ErrRead", err)
	}
	if errors.Cause(err) != io.ErrShortWrite {
		t.Errorf("Cause=%v, wanted io.ErrShortWrite", errors.Cause(err))
	}
	if got := err.Error(); got != "write failed: short write" {
		t.Errorf("Error()=%q", got)
	}
}

func TestIsFatal(t *testing.T) {
	for _, kind := range []error{ErrConfig, ErrConnect, ErrBind, ErrListen} {
		if !IsFatal(withKind(kind, io.EOF)) {
			t.Errorf("%v is not fatal", kind)
		}
	}
	for _, kind := range []error{ErrRead, ErrWrite, ErrChannelClosed, ErrBusy} {
		if IsFatal(withKind(kind, io.EOF)) {
			t.Errorf("%v is fatal", kind)
		}
	}
}
