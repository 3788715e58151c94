package syncserver

import (
	"context"
	"sync"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
)

// memClient is the in-memory bookkeeping row for one client key.
type memClient struct {
	latest   op.TaskId
	versions map[op.TaskId]Version
	children map[op.TaskId]op.TaskId // parent -> child

	snapshotVersionID op.TaskId
	hasSnapshot       bool
	snapshotData      []byte
	versionsAtSnap    uint32
	pushesSinceSnap   uint32
}

// MemStore is an in-memory Store, suitable for tests and for a
// single-process deployment with no durability requirement.
type MemStore struct {
	mu      sync.Mutex
	clients map[op.TaskId]*memClient
}

func NewMemStore() *MemStore {
	return &MemStore{clients: make(map[op.TaskId]*memClient)}
}

func (m *MemStore) Txn(_ context.Context) (StoreTxn, error) {
	return &memTxn{store: m}, nil
}

// memTxn applies its writes to the backing MemStore immediately; there's no
// isolation to speak of for the in-memory reference, only a Commit no-op to
// satisfy the StoreTxn contract.
type memTxn struct {
	store *MemStore
}

func (t *memTxn) client(key op.TaskId) *memClient {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	c, ok := t.store.clients[key]
	if !ok {
		c = &memClient{
			latest:   NilVersionID,
			versions: make(map[op.TaskId]Version),
			children: make(map[op.TaskId]op.TaskId),
		}
		t.store.clients[key] = c
	}
	return c
}

func (t *memTxn) GetOrCreateClient(_ context.Context, key op.TaskId) (Client, error) {
	c := t.client(key)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	out := Client{ClientKey: key, LatestVersionID: c.latest}
	if c.hasSnapshot {
		out.Snapshot = &ClientSnapshot{
			VersionID:     c.snapshotVersionID,
			VersionsSince: c.pushesSinceSnap,
			// The in-memory store has no wall clock notion of staleness;
			// days-since is tracked by callers that care via
			// pushesSinceSnap alone. Real deployments use pgstore, which
			// tracks a timestamp.
			DaysSince: 0,
		}
	}
	return out, nil
}

func (t *memTxn) GetVersionByParent(_ context.Context, key op.TaskId, parent op.TaskId) (Version, bool, error) {
	c := t.client(key)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	childID, ok := c.children[parent]
	if !ok {
		return Version{}, false, nil
	}
	return c.versions[childID], true, nil
}

func (t *memTxn) GetVersion(_ context.Context, key op.TaskId, versionID op.TaskId) (Version, bool, error) {
	c := t.client(key)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	v, ok := c.versions[versionID]
	return v, ok, nil
}

func (t *memTxn) AddVersion(_ context.Context, key op.TaskId, v Version) error {
	c := t.client(key)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	c.versions[v.VersionID] = v
	c.children[v.ParentVersionID] = v.VersionID
	c.latest = v.VersionID
	c.pushesSinceSnap++
	return nil
}

func (t *memTxn) SetSnapshot(_ context.Context, key op.TaskId, versionID op.TaskId, payload []byte) error {
	c := t.client(key)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	c.hasSnapshot = true
	c.snapshotVersionID = versionID
	c.snapshotData = payload
	c.pushesSinceSnap = 0
	return nil
}

func (t *memTxn) GetSnapshotData(_ context.Context, key op.TaskId) ([]byte, bool, error) {
	c := t.client(key)
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if !c.hasSnapshot {
		return nil, false, nil
	}
	return c.snapshotData, true, nil
}

func (t *memTxn) Commit(_ context.Context) error {
	return nil
}
