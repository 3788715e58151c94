package taskdb

import (
	"reflect"
	"time"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/apply"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
)

// GetUndoOps returns the local operations back to, but not including, the
// most recent UndoPoint, in the log's original order. The result is the
// candidate set a caller would pass to CommitUndoOps; inspecting it before
// committing lets a caller describe what an undo is about to do.
func (db *TaskDb) GetUndoOps() ([]op.LoggedOp, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return nil, tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}
	local, err := txn.Operations()
	if err != nil {
		return nil, err
	}

	var undo []op.LoggedOp
	for i := len(local) - 1; i >= 0; i-- {
		if local[i].Kind == op.UndoPoint {
			break
		}
		undo = append(undo, local[i])
	}
	// undo was built newest-first by the scan above; restore log order.
	for i, j := 0, len(undo)-1; i < j; i, j = i+1, j-1 {
		undo[i], undo[j] = undo[j], undo[i]
	}
	return undo, nil
}

// CommitUndoOps reverses undoOps and applies the reversal, but only if
// undoOps are still exactly the tail of the local log (i.e. nothing was
// applied concurrently since GetUndoOps produced them). The UndoPoint
// marker directly before the undone operations, if any, is removed from the
// log with them, so a following GetUndoOps reaches the edit before it. It
// reports whether anything was undone; a false result with a nil error
// means undoOps was empty or a concurrent change invalidated the undo, and
// the caller should re-fetch and retry or give up.
func (db *TaskDb) CommitUndoOps(undoOps []op.LoggedOp) (bool, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return false, tcerr.Wrap(tcerr.KindStorage, err, "open transaction")
	}
	local, err := txn.Operations()
	if err != nil {
		return false, err
	}

	undoLen := len(undoOps)
	if undoLen == 0 {
		return false, nil
	}
	oldLen := len(local)
	if undoLen > oldLen {
		return false, nil
	}
	newLen := oldLen - undoLen
	tail := local[newLen:oldLen]
	if !reflect.DeepEqual(tail, undoOps) {
		return false, nil
	}

	now := time.Now()
	for i := len(undoOps) - 1; i >= 0; i-- {
		for _, rev := range undoOps[i].ReverseOps(now) {
			if err := apply.Op(txn, rev); err != nil {
				return false, err
			}
		}
	}

	if newLen > 0 && local[newLen-1].Kind == op.UndoPoint {
		newLen--
	}
	if err := txn.SetOperations(local[:newLen]); err != nil {
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, tcerr.Wrap(tcerr.KindStorage, err, "commit undo")
	}
	return true, nil
}
