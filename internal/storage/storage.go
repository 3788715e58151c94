// Package storage defines the transactional persistence contract the sync
// core consumes (spec §6): tasks, the pending operation log, the
// base-version pointer, and the working-set passthrough. The core never
// touches a backend directly; it only ever holds a StorageTxn.
package storage

import (
	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
)

// StorageTxn is a single transaction against a replica's local storage,
// providing serializable isolation for the duration of its use. Every
// mutating method takes effect immediately within the transaction; nothing
// is durable until Commit is called.
type StorageTxn interface {
	// GetTask returns the task's property map, or ok=false if no such
	// task exists.
	GetTask(uuid op.TaskId) (tm op.TaskMap, ok bool, err error)

	// CreateTask inserts an empty TaskMap for uuid if it does not
	// already exist. Returns false if the task was already present.
	CreateTask(uuid op.TaskId) (created bool, err error)

	// SetTask overwrites the task's property map unconditionally,
	// creating it if necessary.
	SetTask(uuid op.TaskId, tm op.TaskMap) error

	// DeleteTask removes a task. Returns false if it did not exist.
	DeleteTask(uuid op.TaskId) (deleted bool, err error)

	// AllTasks returns every task as (uuid, TaskMap) pairs, in no
	// particular order.
	AllTasks() ([]TaskEntry, error)

	// AllTaskUUIDs returns the uuids of every task, in no particular
	// order.
	AllTaskUUIDs() ([]op.TaskId, error)

	// BaseVersion returns the most recent server version whose effect is
	// already reflected in the task state.
	BaseVersion() (op.TaskId, error)
	SetBaseVersion(op.TaskId) error

	// Operations returns the pending local log, in append order.
	Operations() ([]op.LoggedOp, error)
	// AddOperation appends a single LoggedOp to the log.
	AddOperation(op.LoggedOp) error
	// SetOperations replaces the entire log atomically.
	SetOperations([]op.LoggedOp) error

	// GetWorkingSet returns the working-set slots; index 0 is always
	// absent (nil). This is opaque passthrough as far as the core is
	// concerned; it never interprets the contents.
	GetWorkingSet() ([]*op.TaskId, error)
	// AddToWorkingSet appends uuid to the first free slot, returning its
	// index.
	AddToWorkingSet(uuid op.TaskId) (index int, err error)
	SetWorkingSetItem(index int, uuid *op.TaskId) error
	ClearWorkingSet() error

	// Commit finalizes every mutation made through this transaction.
	Commit() error
}

// TaskEntry pairs a task's id with its property map, the shape returned by
// AllTasks.
type TaskEntry struct {
	UUID op.TaskId
	Task op.TaskMap
}

// Storage opens transactions against a replica's local persistence. A
// replica holds at most one outstanding transaction at a time (spec §5,
// intra-replica concurrency).
type Storage interface {
	Txn() (StorageTxn, error)
}
