// Package syncserver implements the passive, server-linearized history
// store a replica's HTTP Server transport talks to (spec §4.5). It holds no
// sync logic of its own beyond the version-chain invariants: each client has
// a single linear chain of versions, a push succeeds only if it extends the
// current tip, and snapshots are accepted only when they are recent enough
// to be useful.
package syncserver

import (
	"context"

	"github.com/google/uuid"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
)

// NilVersionID is the distinguished "no parent" sentinel: a client's first
// push has this as its parent, and a client with no history has it as
// latest.
var NilVersionID = op.TaskId(uuid.Nil)

// snapshotSearchLen bounds how far back from latest a new snapshot's version
// may be before it's considered too stale to be worth storing.
const snapshotSearchLen = 5

// Config holds the operator-tunable snapshot-urgency thresholds.
type Config struct {
	// SnapshotDays is the number of days since the last snapshot at which
	// urgency becomes Low; 1.5x that is High.
	SnapshotDays int64
	// SnapshotVersions is the number of versions since the last snapshot at
	// which urgency becomes Low; 1.5x that is High.
	SnapshotVersions uint32
}

// DefaultConfig matches the original server's defaults.
func DefaultConfig() Config {
	return Config{SnapshotDays: 14, SnapshotVersions: 100}
}

func (c Config) forDays(days int64) SnapshotUrgency {
	if days >= c.SnapshotDays*3/2 {
		return SnapshotUrgencyHigh
	}
	if days >= c.SnapshotDays {
		return SnapshotUrgencyLow
	}
	return SnapshotUrgencyNone
}

func (c Config) forVersionsSince(n uint32) SnapshotUrgency {
	if n >= c.SnapshotVersions*3/2 {
		return SnapshotUrgencyHigh
	}
	if n >= c.SnapshotVersions {
		return SnapshotUrgencyLow
	}
	return SnapshotUrgencyNone
}

// SnapshotUrgency mirrors internal/server.SnapshotUrgency; it's a distinct
// type here because syncserver computes it from storage-side bookkeeping
// the client-facing package has no business knowing about.
type SnapshotUrgency int

const (
	SnapshotUrgencyNone SnapshotUrgency = iota
	SnapshotUrgencyLow
	SnapshotUrgencyHigh
)

func maxUrgency(a, b SnapshotUrgency) SnapshotUrgency {
	if a > b {
		return a
	}
	return b
}

// Version is one entry in a client's version chain.
type Version struct {
	VersionID       op.TaskId
	ParentVersionID op.TaskId
	Payload         []byte
}

// ClientSnapshot records which version a client's stored snapshot was taken
// at and how long ago, so urgency can be computed without re-reading the
// (potentially large) snapshot payload itself.
type ClientSnapshot struct {
	VersionID     op.TaskId
	VersionsSince uint32
	DaysSince     int64
}

// Client is the server's per-replica bookkeeping row.
type Client struct {
	ClientKey       op.TaskId
	LatestVersionID op.TaskId
	Snapshot        *ClientSnapshot
}

// AddVersionOutcome mirrors internal/server.AddVersionOutcome.
type AddVersionOutcome int

const (
	AddVersionOk AddVersionOutcome = iota
	AddVersionConflict
)

// AddVersionResult is the result of a push attempt.
type AddVersionResult struct {
	Outcome                 AddVersionOutcome
	NewVersionID            op.TaskId
	ExpectedParentVersionID op.TaskId
}

// GetVersionOutcome is the three-way result the original server computes.
// NotFound and Gone both mean "no such child exists"; they are kept
// distinct here (NotFound: caller is caught up; Gone: the version once
// existed but has since been compacted away) for diagnostics and HTTP
// status codes even though the client-facing Server interface collapses
// them into a single NoSuchVersion case.
type GetVersionOutcome int

const (
	GetVersionNotFound GetVersionOutcome = iota
	GetVersionGone
	GetVersionFound
)

// GetVersionResult is the result of a get_child_version lookup.
type GetVersionResult struct {
	Outcome GetVersionOutcome
	Version Version
}

// Store is the server-side persistence contract: per-client version chains,
// latest pointers, and at most one stored snapshot per client. Concrete
// implementations live in internal/pgstore (Postgres) and this package's
// in-memory reference.
type Store interface {
	// Txn opens a transaction scoped to a single client operation. The
	// caller must call Commit to persist writes; a transaction discarded
	// without Commit has no effect.
	Txn(ctx context.Context) (StoreTxn, error)
}

// StoreTxn is a single unit of work against the server store.
type StoreTxn interface {
	// GetOrCreateClient returns the client row for key, creating it with
	// LatestVersionID == NilVersionID and no snapshot if this is the
	// client's first contact with the server.
	GetOrCreateClient(ctx context.Context, key op.TaskId) (Client, error)

	// GetVersionByParent returns the version whose ParentVersionID equals
	// parent, if one exists in this client's chain.
	GetVersionByParent(ctx context.Context, key op.TaskId, parent op.TaskId) (Version, bool, error)

	// GetVersion returns the version identified by versionID in this
	// client's chain.
	GetVersion(ctx context.Context, key op.TaskId, versionID op.TaskId) (Version, bool, error)

	// AddVersion appends v to the client's chain and advances
	// LatestVersionID to v.VersionID. The caller has already performed the
	// compare-and-swap check against the client's current latest.
	AddVersion(ctx context.Context, key op.TaskId, v Version) error

	// SetSnapshot overwrites the client's stored snapshot pointer and
	// payload.
	SetSnapshot(ctx context.Context, key op.TaskId, versionID op.TaskId, payload []byte) error

	// GetSnapshotData returns the payload for the client's current
	// snapshot, if any.
	GetSnapshotData(ctx context.Context, key op.TaskId) ([]byte, bool, error)

	Commit(ctx context.Context) error
}

// Server applies the version-chain and snapshot-acceptance rules on top of
// a Store. It is the thing internal/httpapi calls into per request.
type Server struct {
	store  Store
	config Config
}

func New(store Store, config Config) *Server {
	return &Server{store: store, config: config}
}

// AddVersion attempts to append payload as a new version extending parent
// in key's chain. It fails the push (AddVersionConflict) if parent does not
// equal the client's current latest. On success it returns the
// snapshot-urgency signal computed from the client's current snapshot
// bookkeeping, so the caller can advise the replica to upload one.
func (s *Server) AddVersion(ctx context.Context, key op.TaskId, parent op.TaskId, payload []byte) (AddVersionResult, SnapshotUrgency, error) {
	txn, err := s.store.Txn(ctx)
	if err != nil {
		return AddVersionResult{}, SnapshotUrgencyNone, tcerr.Wrap(tcerr.KindServer, err, "open server txn")
	}

	client, err := txn.GetOrCreateClient(ctx, key)
	if err != nil {
		return AddVersionResult{}, SnapshotUrgencyNone, tcerr.Wrap(tcerr.KindServer, err, "get or create client")
	}

	if parent != client.LatestVersionID {
		return AddVersionResult{
			Outcome:                 AddVersionConflict,
			ExpectedParentVersionID: client.LatestVersionID,
		}, SnapshotUrgencyNone, nil
	}

	newID := op.TaskId(uuid.New())
	v := Version{VersionID: newID, ParentVersionID: parent, Payload: payload}
	if err := txn.AddVersion(ctx, key, v); err != nil {
		return AddVersionResult{}, SnapshotUrgencyNone, tcerr.Wrap(tcerr.KindServer, err, "add version")
	}

	urgency := s.snapshotUrgency(client)

	if err := txn.Commit(ctx); err != nil {
		return AddVersionResult{}, SnapshotUrgencyNone, tcerr.Wrap(tcerr.KindServer, err, "commit add version")
	}
	return AddVersionResult{Outcome: AddVersionOk, NewVersionID: newID}, urgency, nil
}

// snapshotUrgency computes max(time urgency, version-count urgency) from
// the client's snapshot bookkeeping. A client with no snapshot at all is
// always High urgency: it has nothing to bootstrap a fresh replica from.
func (s *Server) snapshotUrgency(client Client) SnapshotUrgency {
	if client.Snapshot == nil {
		return SnapshotUrgencyHigh
	}
	timeUrgency := s.config.forDays(client.Snapshot.DaysSince)
	versionUrgency := s.config.forVersionsSince(client.Snapshot.VersionsSince)
	return maxUrgency(timeUrgency, versionUrgency)
}

// GetChildVersion returns the unique child of parent in key's chain. A
// parent of NilVersionID is the bootstrap case: if the client has never
// taken a snapshot it reports NotFound (nothing to catch up on), otherwise
// Gone (there's history, but it starts later than the client's own empty
// state — the client should pull the snapshot instead).
func (s *Server) GetChildVersion(ctx context.Context, key op.TaskId, parent op.TaskId) (GetVersionResult, error) {
	txn, err := s.store.Txn(ctx)
	if err != nil {
		return GetVersionResult{}, tcerr.Wrap(tcerr.KindServer, err, "open server txn")
	}

	child, ok, err := txn.GetVersionByParent(ctx, key, parent)
	if err != nil {
		return GetVersionResult{}, tcerr.Wrap(tcerr.KindServer, err, "get version by parent")
	}
	if ok {
		return GetVersionResult{Outcome: GetVersionFound, Version: child}, nil
	}

	if parent == NilVersionID {
		client, err := txn.GetOrCreateClient(ctx, key)
		if err != nil {
			return GetVersionResult{}, tcerr.Wrap(tcerr.KindServer, err, "get or create client")
		}
		if client.Snapshot == nil {
			return GetVersionResult{Outcome: GetVersionNotFound}, nil
		}
		return GetVersionResult{Outcome: GetVersionGone}, nil
	}

	// parent names a real version but has no child: either the caller is
	// caught up (parent is the chain's tip) or parent itself has been
	// compacted away.
	if _, ok, err := txn.GetVersion(ctx, key, parent); err != nil {
		return GetVersionResult{}, tcerr.Wrap(tcerr.KindServer, err, "get version")
	} else if ok {
		return GetVersionResult{Outcome: GetVersionNotFound}, nil
	}
	return GetVersionResult{Outcome: GetVersionGone}, nil
}

// AddSnapshot stores payload as key's snapshot at versionID, but only if
// versionID is recent enough: walking back from the chain's tip at most
// snapshotSearchLen versions must reach either versionID itself or the
// client's currently stored snapshot version. Anything older is silently
// discarded, matching the original server's behavior (a stale snapshot
// upload is not an error, just a no-op).
func (s *Server) AddSnapshot(ctx context.Context, key op.TaskId, versionID op.TaskId, payload []byte) error {
	txn, err := s.store.Txn(ctx)
	if err != nil {
		return tcerr.Wrap(tcerr.KindServer, err, "open server txn")
	}

	client, err := txn.GetOrCreateClient(ctx, key)
	if err != nil {
		return tcerr.Wrap(tcerr.KindServer, err, "get or create client")
	}

	if client.Snapshot != nil && client.Snapshot.VersionID == versionID {
		return nil
	}

	cur := client.LatestVersionID
	found := false
	for i := 0; i < snapshotSearchLen; i++ {
		if cur == NilVersionID {
			break
		}
		if cur == versionID {
			found = true
			break
		}
		if client.Snapshot != nil && cur == client.Snapshot.VersionID {
			// Reached the existing (newer) snapshot's version before
			// finding this one; this upload is older, reject it.
			break
		}
		v, ok, err := txn.GetVersion(ctx, key, cur)
		if err != nil {
			return tcerr.Wrap(tcerr.KindServer, err, "walk version chain")
		}
		if !ok {
			break
		}
		cur = v.ParentVersionID
	}
	if !found {
		return nil
	}

	if err := txn.SetSnapshot(ctx, key, versionID, payload); err != nil {
		return tcerr.Wrap(tcerr.KindServer, err, "set snapshot")
	}
	return txn.Commit(ctx)
}

// GetSnapshot returns the client's stored snapshot version id and payload,
// if any.
func (s *Server) GetSnapshot(ctx context.Context, key op.TaskId) (op.TaskId, []byte, bool, error) {
	txn, err := s.store.Txn(ctx)
	if err != nil {
		return op.TaskId{}, nil, false, tcerr.Wrap(tcerr.KindServer, err, "open server txn")
	}
	client, err := txn.GetOrCreateClient(ctx, key)
	if err != nil {
		return op.TaskId{}, nil, false, tcerr.Wrap(tcerr.KindServer, err, "get or create client")
	}
	if client.Snapshot == nil {
		return op.TaskId{}, nil, false, nil
	}
	payload, ok, err := txn.GetSnapshotData(ctx, key)
	if err != nil {
		return op.TaskId{}, nil, false, tcerr.Wrap(tcerr.KindServer, err, "get snapshot data")
	}
	if !ok {
		return op.TaskId{}, nil, false, nil
	}
	return client.Snapshot.VersionID, payload, true, nil
}
