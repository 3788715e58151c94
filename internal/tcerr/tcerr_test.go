package tcerr

import (
	"errors"
	"testing"
)

func TestWrapNilIsNil(t *testing.T) {
	var commitErr error // simulates a successful txn.Commit()
	if err := Wrap(KindStorage, commitErr, "commit"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapIsMatchesSentinel(t *testing.T) {
	underlying := errors.New("disk full")
	err := Wrap(KindStorage, underlying, "flush")
	if !errors.Is(err, ErrStorage) {
		t.Errorf("errors.Is(err, ErrStorage) = false, want true")
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(err, ErrNotFound) = true, want false")
	}
}

func TestWrapUnwrapsUnderlying(t *testing.T) {
	underlying := errors.New("disk full")
	err := Wrap(KindStorage, underlying, "flush")
	if !errors.Is(err, underlying) {
		t.Errorf("errors.Is(err, underlying) = false, want true")
	}
}

func TestNewHasNoUnderlyingError(t *testing.T) {
	err := New(KindNotFound, "task %s missing", "abc")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(err, ErrNotFound) = false, want true")
	}
	var tcErr *Error
	if !errors.As(err, &tcErr) {
		t.Fatalf("errors.As failed to extract *Error")
	}
	if tcErr.Kind != KindNotFound {
		t.Errorf("Kind = %v, want KindNotFound", tcErr.Kind)
	}
}
