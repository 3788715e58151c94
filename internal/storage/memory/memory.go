// Package memory is the reference in-memory implementation of the storage
// contract (spec §6), used by the core's own tests and suitable for any
// caller that doesn't need persistence across process restarts.
package memory

import (
	"sync"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/storage"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
)

// Storage is a process-local, mutex-guarded implementation of
// storage.Storage. Per the intra-replica concurrency model (spec §5), a
// replica is expected to hold at most one outstanding transaction at a
// time; this implementation gives each transaction a snapshot of the state
// taken under a brief lock, and applies its result back under another brief
// lock at Commit, rather than holding the lock for the transaction's whole
// lifetime (which would deadlock a caller that abandons a transaction
// without committing, e.g. on an apply error).
type Storage struct {
	mu sync.Mutex

	tasks       map[op.TaskId]op.TaskMap
	baseVersion op.TaskId
	operations  []op.LoggedOp
	workingSet  []*op.TaskId
}

// New returns an empty in-memory storage, with an empty task set, a nil
// base version, an empty log, and a working set whose index 0 is already
// reserved as absent.
func New() *Storage {
	return &Storage{
		tasks:      make(map[op.TaskId]op.TaskMap),
		workingSet: []*op.TaskId{nil},
	}
}

// Txn takes a snapshot of the current state and returns a transaction
// operating on a private copy of it. Nothing is visible to other
// transactions until Commit is called.
func (s *Storage) Txn() (storage.StorageTxn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &txn{parent: s}
	t.tasks = make(map[op.TaskId]op.TaskMap, len(s.tasks))
	for id, tm := range s.tasks {
		t.tasks[id] = tm.Clone()
	}
	t.baseVersion = s.baseVersion
	t.operations = append([]op.LoggedOp(nil), s.operations...)
	t.workingSet = append([]*op.TaskId(nil), s.workingSet...)
	return t, nil
}

type txn struct {
	parent *Storage

	tasks       map[op.TaskId]op.TaskMap
	baseVersion op.TaskId
	operations  []op.LoggedOp
	workingSet  []*op.TaskId

	committed bool
}

func (t *txn) GetTask(uuid op.TaskId) (op.TaskMap, bool, error) {
	tm, ok := t.tasks[uuid]
	if !ok {
		return nil, false, nil
	}
	return tm.Clone(), true, nil
}

func (t *txn) CreateTask(uuid op.TaskId) (bool, error) {
	if _, exists := t.tasks[uuid]; exists {
		return false, nil
	}
	t.tasks[uuid] = op.TaskMap{}
	return true, nil
}

func (t *txn) SetTask(uuid op.TaskId, tm op.TaskMap) error {
	t.tasks[uuid] = tm.Clone()
	return nil
}

func (t *txn) DeleteTask(uuid op.TaskId) (bool, error) {
	if _, exists := t.tasks[uuid]; !exists {
		return false, nil
	}
	delete(t.tasks, uuid)
	return true, nil
}

func (t *txn) AllTasks() ([]storage.TaskEntry, error) {
	entries := make([]storage.TaskEntry, 0, len(t.tasks))
	for id, tm := range t.tasks {
		entries = append(entries, storage.TaskEntry{UUID: id, Task: tm.Clone()})
	}
	return entries, nil
}

func (t *txn) AllTaskUUIDs() ([]op.TaskId, error) {
	ids := make([]op.TaskId, 0, len(t.tasks))
	for id := range t.tasks {
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *txn) BaseVersion() (op.TaskId, error) {
	return t.baseVersion, nil
}

func (t *txn) SetBaseVersion(id op.TaskId) error {
	t.baseVersion = id
	return nil
}

func (t *txn) Operations() ([]op.LoggedOp, error) {
	return append([]op.LoggedOp(nil), t.operations...), nil
}

func (t *txn) AddOperation(o op.LoggedOp) error {
	t.operations = append(t.operations, o)
	return nil
}

func (t *txn) SetOperations(ops []op.LoggedOp) error {
	t.operations = append([]op.LoggedOp(nil), ops...)
	return nil
}

func (t *txn) GetWorkingSet() ([]*op.TaskId, error) {
	return append([]*op.TaskId(nil), t.workingSet...), nil
}

func (t *txn) AddToWorkingSet(uuid op.TaskId) (int, error) {
	for i := 1; i < len(t.workingSet); i++ {
		if t.workingSet[i] == nil {
			id := uuid
			t.workingSet[i] = &id
			return i, nil
		}
	}
	id := uuid
	t.workingSet = append(t.workingSet, &id)
	return len(t.workingSet) - 1, nil
}

func (t *txn) SetWorkingSetItem(index int, uuid *op.TaskId) error {
	if index <= 0 {
		return tcerr.New(tcerr.KindStorage, "working set index %d is reserved or invalid", index)
	}
	for len(t.workingSet) <= index {
		t.workingSet = append(t.workingSet, nil)
	}
	t.workingSet[index] = uuid
	return nil
}

func (t *txn) ClearWorkingSet() error {
	t.workingSet = []*op.TaskId{nil}
	return nil
}

func (t *txn) Commit() error {
	if t.committed {
		return nil
	}
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.tasks = t.tasks
	t.parent.baseVersion = t.baseVersion
	t.parent.operations = t.operations
	t.parent.workingSet = t.workingSet
	t.committed = true
	return nil
}
