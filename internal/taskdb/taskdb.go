// Package taskdb is the core replica engine: it sequences every mutation
// through a storage transaction, drives the synchronization protocol against
// a passive server, and supports undo by replaying the local log in
// reverse. Everything here is agnostic to how a task's properties are
// interpreted; that belongs to a caller layered on top.
package taskdb

import (
	"github.com/GothenburgBitFactory/taskchampion-go/internal/apply"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/storage"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
)

// TaskDb is a thin, transaction-per-call wrapper around a storage backend.
// It holds no in-memory state of its own; every method opens a transaction,
// does its work, and commits (or, on the read paths, simply lets the
// transaction fall out of scope).
type TaskDb struct {
	storage storage.Storage
}

// New wraps a storage backend in a TaskDb.
func New(s storage.Storage) *TaskDb {
	return &TaskDb{storage: s}
}

// Apply performs a single local edit: it applies so to task state and
// appends the reversible LoggedOp to the pending operation log, in one
// transaction. On failure, the transaction is left uncommitted and the
// underlying state is unchanged.
func (db *TaskDb) Apply(so op.SyncOp) (op.TaskMap, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return nil, tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}
	tm, err := apply.AndRecord(txn, so)
	if err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, tcerr.Wrap(tcerr.KindStorage, err, "commit apply")
	}
	return tm, nil
}

// AddUndoPoint appends an UndoPoint marker to the local log, establishing a
// boundary that a later Undo will stop at.
func (db *TaskDb) AddUndoPoint() error {
	txn, err := db.storage.Txn()
	if err != nil {
		return tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}
	if err := txn.AddOperation(op.NewUndoPoint()); err != nil {
		return tcerr.Wrap(tcerr.KindStorage, err, "append undo point")
	}
	return tcerr.Wrap(tcerr.KindStorage, txn.Commit(), "commit undo point")
}

// GetTask returns a single task's property map, or ok=false if it does not
// exist.
func (db *TaskDb) GetTask(uuid op.TaskId) (op.TaskMap, bool, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return nil, false, tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}
	return txn.GetTask(uuid)
}

// AllTasks returns every task in the replica.
func (db *TaskDb) AllTasks() ([]storage.TaskEntry, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return nil, tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}
	return txn.AllTasks()
}

// AllTaskUUIDs returns the uuids of every task in the replica.
func (db *TaskDb) AllTaskUUIDs() ([]op.TaskId, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return nil, tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}
	return txn.AllTaskUUIDs()
}

// NumOperations returns the count of pending, unsynchronized local
// operations.
func (db *TaskDb) NumOperations() (int, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return 0, tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}
	ops, err := txn.Operations()
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// WorkingSet returns the working-set slots; index 0 is always absent.
func (db *TaskDb) WorkingSet() ([]*op.TaskId, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return nil, tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}
	return txn.GetWorkingSet()
}

// AddToWorkingSet adds uuid to the working set if it is not already present,
// returning its index either way. This does not renumber existing entries.
func (db *TaskDb) AddToWorkingSet(uuid op.TaskId) (int, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return 0, tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}
	ws, err := txn.GetWorkingSet()
	if err != nil {
		return 0, err
	}
	for i, elt := range ws {
		if elt != nil && *elt == uuid {
			return i, nil
		}
	}
	idx, err := txn.AddToWorkingSet(uuid)
	if err != nil {
		return 0, err
	}
	return idx, tcerr.Wrap(tcerr.KindStorage, txn.Commit(), "commit working set add")
}

// RebuildWorkingSet renumbers the working set to eliminate gaps, dropping
// entries for which inWorkingSet returns false and appending any task not
// already present for which it returns true. Existing entries keep their
// relative order, compressed to the front.
func (db *TaskDb) RebuildWorkingSet(inWorkingSet func(op.TaskMap) bool) error {
	txn, err := db.storage.Txn()
	if err != nil {
		return tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}

	ws, err := txn.GetWorkingSet()
	if err != nil {
		return err
	}

	newWs := make([]op.TaskId, 0, len(ws))
	seen := make(map[op.TaskId]bool, len(ws))
	for _, elt := range ws {
		if elt == nil {
			continue
		}
		tm, ok, err := txn.GetTask(*elt)
		if err != nil {
			return err
		}
		if ok && inWorkingSet(tm) {
			newWs = append(newWs, *elt)
			seen[*elt] = true
		}
	}

	entries, err := txn.AllTasks()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !seen[e.UUID] && inWorkingSet(e.Task) {
			newWs = append(newWs, e.UUID)
		}
	}

	if err := txn.ClearWorkingSet(); err != nil {
		return err
	}
	for _, id := range newWs {
		if _, err := txn.AddToWorkingSet(id); err != nil {
			return err
		}
	}
	return tcerr.Wrap(tcerr.KindStorage, txn.Commit(), "commit working set rebuild")
}
