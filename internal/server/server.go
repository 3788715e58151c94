// Package server defines the four-method contract the sync engine consumes
// from a passive sync server (spec §4.5). Concrete transports live
// elsewhere and merely implement this interface; internal/httpclient is the
// HTTP one.
package server

import (
	"context"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
)

// SnapshotUrgency is the server's advisory signal about whether the
// replica should upload a snapshot after a successful push.
type SnapshotUrgency int

const (
	SnapshotUrgencyNone SnapshotUrgency = iota
	SnapshotUrgencyLow
	SnapshotUrgencyHigh
)

func (u SnapshotUrgency) String() string {
	switch u {
	case SnapshotUrgencyLow:
		return "low"
	case SnapshotUrgencyHigh:
		return "high"
	default:
		return "none"
	}
}

// AddVersionOutcome distinguishes the two shapes AddVersionResult can take.
type AddVersionOutcome int

const (
	// AddVersionOk means the version was accepted under the given new id.
	AddVersionOk AddVersionOutcome = iota
	// AddVersionExpectedParentVersion means the server's compare-and-swap
	// on `latest` rejected this push; ExpectedParentVersionID names the
	// parent the caller must rebase onto and retry.
	AddVersionExpectedParentVersion
)

// AddVersionResult is the result of a single add_version call.
type AddVersionResult struct {
	Outcome AddVersionOutcome

	// NewVersionID is valid when Outcome == AddVersionOk.
	NewVersionID op.TaskId
	// ExpectedParentVersionID is valid when
	// Outcome == AddVersionExpectedParentVersion.
	ExpectedParentVersionID op.TaskId
}

// Version is a single entry in the server's version chain: an ordered
// batch of SyncOps (opaque to this package as an encoded payload) with a
// parent pointer.
type Version struct {
	VersionID       op.TaskId
	ParentVersionID op.TaskId
	Payload         []byte
}

// GetVersionOutcome distinguishes the two shapes GetVersionResult can take.
type GetVersionOutcome int

const (
	// GetVersionFound means the unique child of the requested parent was
	// returned.
	GetVersionFound GetVersionOutcome = iota
	// GetVersionNoSuchVersion means the requested parent has no child in
	// the chain leading to latest (the caller is up to date).
	GetVersionNoSuchVersion
)

// GetVersionResult is the result of a single get_child_version call.
type GetVersionResult struct {
	Outcome GetVersionOutcome
	// Version is valid when Outcome == GetVersionFound.
	Version Version
}

// Snapshot is a full {uuid -> TaskMap} dump tagged with the version at
// which it was taken.
type Snapshot struct {
	VersionID op.TaskId
	Payload   []byte
}

// Server is the contract the sync engine requires of a passive,
// server-linearized history store. Every method may fail with a transport
// error; the sync engine treats such failures as tcerr.KindServer.
type Server interface {
	// AddVersion attempts to append payload as a new version whose
	// parent is the given version id. The server accepts it only if
	// parent equals its current `latest`; otherwise it reports the
	// version the caller must rebase onto.
	AddVersion(ctx context.Context, parent op.TaskId, payload []byte) (AddVersionResult, SnapshotUrgency, error)

	// GetChildVersion returns the unique child of parent in the chain
	// leading to latest, if one exists.
	GetChildVersion(ctx context.Context, parent op.TaskId) (GetVersionResult, error)

	// AddSnapshot uploads a snapshot taken at versionID. The server may
	// silently reject it if the version is not recent enough; this is
	// not reported as an error.
	AddSnapshot(ctx context.Context, versionID op.TaskId, payload []byte) error

	// GetSnapshot returns whatever snapshot the server chooses to offer
	// (typically its most recent), or nil if it has none.
	GetSnapshot(ctx context.Context) (*Snapshot, error)
}
