// Package tcerr defines the error kinds the sync core surfaces to callers.
//
// Every exported sentinel corresponds to an error kind from the
// synchronization protocol: NotFound and AlreadyExists come from the apply
// engine, Storage and Server wrap failures from the two collaborator
// interfaces, OutOfSync signals irrecoverable divergence, and Encryption /
// Corruption come from the wire-format boundary.
package tcerr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the core's error categories an Error belongs to.
type Kind int

const (
	// KindNotFound means a local apply referenced a missing task or
	// property where presence was required.
	KindNotFound Kind = iota
	// KindAlreadyExists means apply_op's replay path tried to create a
	// task that already exists.
	KindAlreadyExists
	// KindStorage means the storage backend refused a transaction.
	KindStorage
	// KindServer means a transport or protocol error occurred talking to
	// the sync server.
	KindServer
	// KindOutOfSync means two successive pushes in one sync() returned
	// the same ExpectedParentVersion: the replica and server have
	// diverged irrecoverably.
	KindOutOfSync
	// KindEncryption means an envelope had an unknown version, failed
	// authentication, or was otherwise malformed.
	KindEncryption
	// KindCorruption means a decoded version or snapshot payload was not
	// valid.
	KindCorruption
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindStorage:
		return "storage"
	case KindServer:
		return "server"
	case KindOutOfSync:
		return "out_of_sync"
	case KindEncryption:
		return "encryption"
	case KindCorruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// sentinel base errors; test with errors.Is against these, not against a
// formatted *Error, since the Detail string varies per occurrence.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStorage       = errors.New("storage error")
	ErrServer        = errors.New("server error")
	ErrOutOfSync     = errors.New("out of sync")
	ErrEncryption    = errors.New("encryption error")
	ErrCorruption    = errors.New("corruption")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindStorage:
		return ErrStorage
	case KindServer:
		return ErrServer
	case KindOutOfSync:
		return ErrOutOfSync
	case KindEncryption:
		return ErrEncryption
	case KindCorruption:
		return ErrCorruption
	default:
		return errors.New("unknown error")
	}
}

// Error is the concrete error type returned by the core. It carries a Kind
// for programmatic dispatch and a Detail string for humans; the CLI layer
// (out of scope here) is responsible for any further presentation.
type Error struct {
	Kind   Kind
	Detail string
	// Err, if set, is the underlying error this Error wraps (e.g. a
	// storage backend's own error).
	Err error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return sentinelFor(e.Kind).Error()
	}
	return fmt.Sprintf("%s: %s", sentinelFor(e.Kind), e.Detail)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return sentinelFor(e.Kind)
}

// New builds an *Error of the given kind with a formatted detail string.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind that wraps an underlying error. It
// returns a plain untyped nil error if err is nil, so callers may pass it a
// fallible call's result directly:
// `return tcerr.Wrap(tcerr.KindStorage, txn.Commit(), "...")`. This returns
// the `error` interface rather than *Error specifically so that nil case
// produces a true nil interface value, not a non-nil interface wrapping a
// nil *Error.
func Wrap(k Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Is allows errors.Is(err, tcerr.ErrNotFound) to match an *Error of the
// corresponding kind even though the sentinel isn't the literal Err field.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}
