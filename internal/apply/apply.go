// Package apply implements the two entry points that mutate a replica's
// task state under a storage transaction: ApplyAndRecord for local edits,
// and ApplyOp for replaying remote operations during rebase.
package apply

import (
	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/storage"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
)

// AndRecord applies a single SyncOp as a local edit: it mutates task state
// and appends a LoggedOp carrying enough context to reverse the edit later.
// It returns the resulting TaskMap (empty for Delete; the task's current
// map for a Create of an already-existing task).
//
// Create and Delete are idempotent: creating an existing task or deleting
// an absent one is a no-op that writes nothing to the log. Update of an
// absent task is the one case that fails outright, since it indicates
// caller error rather than a race with a concurrent delete.
func AndRecord(txn storage.StorageTxn, so op.SyncOp) (op.TaskMap, error) {
	switch so.Kind {
	case op.Create:
		created, err := txn.CreateTask(so.UUID)
		if err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "create task %s", so.UUID)
		}
		if !created {
			tm, ok, err := txn.GetTask(so.UUID)
			if err != nil {
				return nil, tcerr.Wrap(tcerr.KindStorage, err, "get task %s", so.UUID)
			}
			if !ok {
				return nil, tcerr.New(tcerr.KindStorage, "create_task reported existing task %s but it is missing", so.UUID)
			}
			return tm, nil
		}
		if err := txn.AddOperation(op.NewLoggedCreate(so.UUID)); err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "log create %s", so.UUID)
		}
		return op.TaskMap{}, nil

	case op.Delete:
		tm, ok, err := txn.GetTask(so.UUID)
		if err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "get task %s", so.UUID)
		}
		if !ok {
			return op.TaskMap{}, nil
		}
		if _, err := txn.DeleteTask(so.UUID); err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "delete task %s", so.UUID)
		}
		if err := txn.AddOperation(op.NewLoggedDelete(so.UUID, tm)); err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "log delete %s", so.UUID)
		}
		return op.TaskMap{}, nil

	case op.Update:
		tm, ok, err := txn.GetTask(so.UUID)
		if err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "get task %s", so.UUID)
		}
		if !ok {
			return nil, tcerr.New(tcerr.KindNotFound, "task %s does not exist", so.UUID)
		}
		oldValue, hadOld := tm[so.Property]
		var oldValuePtr *string
		if hadOld {
			v := oldValue
			oldValuePtr = &v
		}
		if so.Value != nil {
			tm[so.Property] = *so.Value
		} else {
			delete(tm, so.Property)
		}
		if err := txn.SetTask(so.UUID, tm); err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "set task %s", so.UUID)
		}
		if err := txn.AddOperation(op.NewLoggedUpdate(so.UUID, so.Property, oldValuePtr, so.Value, so.Timestamp)); err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "log update %s", so.UUID)
		}
		return tm, nil

	default:
		return nil, tcerr.New(tcerr.KindStorage, "cannot apply_and_record a %s op", so.Kind)
	}
}

// Op applies a SyncOp to task state without recording it in the log; this
// is the replay path used while rebasing remote operations during sync.
// Unlike AndRecord, every variant fails loudly when its precondition isn't
// met: creating an existing task, deleting an absent one, and updating an
// absent one are all errors here. Callers on the rebase path (§4.3) are
// expected to tolerate and log these failures rather than propagate them.
func Op(txn storage.StorageTxn, so op.SyncOp) error {
	switch so.Kind {
	case op.Create:
		created, err := txn.CreateTask(so.UUID)
		if err != nil {
			return tcerr.Wrap(tcerr.KindStorage, err, "create task %s", so.UUID)
		}
		if !created {
			return tcerr.New(tcerr.KindAlreadyExists, "task %s already exists", so.UUID)
		}
		return nil

	case op.Delete:
		deleted, err := txn.DeleteTask(so.UUID)
		if err != nil {
			return tcerr.Wrap(tcerr.KindStorage, err, "delete task %s", so.UUID)
		}
		if !deleted {
			return tcerr.New(tcerr.KindNotFound, "task %s does not exist", so.UUID)
		}
		return nil

	case op.Update:
		tm, ok, err := txn.GetTask(so.UUID)
		if err != nil {
			return tcerr.Wrap(tcerr.KindStorage, err, "get task %s", so.UUID)
		}
		if !ok {
			return tcerr.New(tcerr.KindNotFound, "task %s does not exist", so.UUID)
		}
		if so.Value != nil {
			tm[so.Property] = *so.Value
		} else {
			delete(tm, so.Property)
		}
		if err := txn.SetTask(so.UUID, tm); err != nil {
			return tcerr.Wrap(tcerr.KindStorage, err, "set task %s", so.UUID)
		}
		return nil

	default:
		return tcerr.New(tcerr.KindStorage, "cannot apply_op a %s op", so.Kind)
	}
}
