package taskdb

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
)

func TestUndoRestoresPriorState(t *testing.T) {
	db := newdb()
	uuid1 := uuid.New()
	uuid2 := uuid.New()
	now := time.Now()

	db.Apply(op.NewCreate(uuid1))
	db.Apply(op.NewUpdate(uuid1, "prop", strp("v1"), now))
	db.Apply(op.NewCreate(uuid2))
	db.Apply(op.NewUpdate(uuid2, "prop", strp("v2"), now))
	db.Apply(op.NewUpdate(uuid2, "prop2", strp("v3"), now))

	before := sortedTasks(t, db)

	if err := db.AddUndoPoint(); err != nil {
		t.Fatalf("AddUndoPoint: %v", err)
	}
	db.Apply(op.NewDelete(uuid1))
	db.Apply(op.NewUpdate(uuid2, "prop", nil, now))
	db.Apply(op.NewUpdate(uuid2, "prop2", strp("new-value"), now))

	n, err := db.NumOperations()
	if err != nil {
		t.Fatalf("NumOperations: %v", err)
	}
	if n != 9 {
		t.Fatalf("got %d operations, want 9", n)
	}

	undoOps, err := db.GetUndoOps()
	if err != nil {
		t.Fatalf("GetUndoOps: %v", err)
	}
	applied, err := db.CommitUndoOps(undoOps)
	if err != nil {
		t.Fatalf("CommitUndoOps: %v", err)
	}
	if !applied {
		t.Fatal("expected undo to apply")
	}

	n, _ = db.NumOperations()
	if n != 5 {
		t.Fatalf("got %d operations after undo, want 5", n)
	}
	after := sortedTasks(t, db)
	if len(after) != len(before) {
		t.Fatalf("task count after undo = %d, want %d", len(after), len(before))
	}

	undoOps2, err := db.GetUndoOps()
	if err != nil {
		t.Fatalf("GetUndoOps: %v", err)
	}
	applied, err = db.CommitUndoOps(undoOps2)
	if err != nil {
		t.Fatalf("CommitUndoOps: %v", err)
	}
	if !applied {
		t.Fatal("expected second undo to apply")
	}
	n, _ = db.NumOperations()
	if n != 0 {
		t.Fatalf("got %d operations after second undo, want 0", n)
	}

	undoOps3, _ := db.GetUndoOps()
	applied, err = db.CommitUndoOps(undoOps3)
	if err != nil {
		t.Fatalf("CommitUndoOps on empty log: %v", err)
	}
	if applied {
		t.Fatal("expected nothing left to undo")
	}
}

func TestUndoFailsOnConcurrentChange(t *testing.T) {
	db := newdb()
	id := uuid.New()

	db.Apply(op.NewCreate(id))
	db.AddUndoPoint()
	db.Apply(op.NewUpdate(id, "prop", strp("v1"), time.Now()))

	undoOps, err := db.GetUndoOps()
	if err != nil {
		t.Fatalf("GetUndoOps: %v", err)
	}

	// Simulate a concurrent local edit landing after the undo set was
	// captured but before it was committed.
	db.Apply(op.NewUpdate(id, "prop", strp("v2"), time.Now()))

	applied, err := db.CommitUndoOps(undoOps)
	if err != nil {
		t.Fatalf("CommitUndoOps: %v", err)
	}
	if applied {
		t.Fatal("expected undo to be rejected due to concurrent change")
	}
}
