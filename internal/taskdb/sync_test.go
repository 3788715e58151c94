package taskdb

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/server"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/storage"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/storage/memory"
)

func newdb() *TaskDb {
	return New(memory.New())
}

func strp(s string) *string { return &s }

func sortedTasks(t *testing.T, db *TaskDb) []storage.TaskEntry {
	t.Helper()
	entries, err := db.AllTasks()
	if err != nil {
		t.Fatalf("AllTasks: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UUID.String() < entries[j].UUID.String()
	})
	return entries
}

func assertSameTasks(t *testing.T, db1, db2 *TaskDb) {
	t.Helper()
	e1 := sortedTasks(t, db1)
	e2 := sortedTasks(t, db2)
	if len(e1) != len(e2) {
		t.Fatalf("task count mismatch: %d vs %d", len(e1), len(e2))
	}
	for i := range e1 {
		if e1[i].UUID != e2[i].UUID {
			t.Fatalf("uuid mismatch at %d: %v vs %v", i, e1[i].UUID, e2[i].UUID)
		}
		if len(e1[i].Task) != len(e2[i].Task) {
			t.Fatalf("task %v property count mismatch: %v vs %v", e1[i].UUID, e1[i].Task, e2[i].Task)
		}
		for k, v := range e1[i].Task {
			if e2[i].Task[k] != v {
				t.Fatalf("task %v property %q mismatch: %q vs %q", e1[i].UUID, k, v, e2[i].Task[k])
			}
		}
	}
}

func TestSyncConverges(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer()

	db1 := newdb()
	if err := db1.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db1 initial sync: %v", err)
	}
	db2 := newdb()
	if err := db2.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db2 initial sync: %v", err)
	}

	uuid1 := uuid.New()
	db1.Apply(op.NewCreate(uuid1))
	db1.Apply(op.NewUpdate(uuid1, "title", strp("my first task"), time.Now()))

	uuid2 := uuid.New()
	db2.Apply(op.NewCreate(uuid2))
	db2.Apply(op.NewUpdate(uuid2, "title", strp("my second task"), time.Now()))

	if err := db1.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db1 sync: %v", err)
	}
	if err := db2.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db2 sync: %v", err)
	}
	if err := db1.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db1 sync: %v", err)
	}
	assertSameTasks(t, db1, db2)

	db1.Apply(op.NewUpdate(uuid2, "priority", strp("H"), time.Now()))
	db2.Apply(op.NewUpdate(uuid2, "project", strp("personal"), time.Now()))

	if err := db1.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db1 sync: %v", err)
	}
	if err := db2.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db2 sync: %v", err)
	}
	if err := db1.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db1 sync: %v", err)
	}
	assertSameTasks(t, db1, db2)
}

func TestSyncCreateDeleteConverges(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer()

	db1 := newdb()
	db1.Sync(ctx, srv, false)
	db2 := newdb()
	db2.Sync(ctx, srv, false)

	id := uuid.New()
	db1.Apply(op.NewCreate(id))
	db1.Apply(op.NewUpdate(id, "title", strp("my first task"), time.Now()))

	db1.Sync(ctx, srv, false)
	db2.Sync(ctx, srv, false)
	db1.Sync(ctx, srv, false)
	assertSameTasks(t, db1, db2)

	db1.Apply(op.NewDelete(id))
	db1.Apply(op.NewCreate(id))
	db1.Apply(op.NewUpdate(id, "title", strp("my second task"), time.Now()))

	db2.Apply(op.NewUpdate(id, "project", strp("personal"), time.Now()))

	if err := db1.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db1 sync: %v", err)
	}
	if err := db2.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db2 sync: %v", err)
	}
	if err := db1.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db1 sync: %v", err)
	}
	assertSameTasks(t, db1, db2)
}

func TestSyncSnapshotBootstrap(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer()

	db1 := newdb()
	id := uuid.New()
	db1.Apply(op.NewCreate(id))
	db1.Apply(op.NewUpdate(id, "title", strp("my first task"), time.Now()))

	srv.setUrgency(server.SnapshotUrgencyHigh)
	if err := db1.Sync(ctx, srv, false); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if srv.snapshot == nil {
		t.Fatal("expected a snapshot to have been uploaded")
	}

	db2 := newdb()
	if err := db2.Sync(ctx, srv, false); err != nil {
		t.Fatalf("db2 sync: %v", err)
	}
	tm, ok, err := db2.GetTask(id)
	if err != nil || !ok {
		t.Fatalf("db2 did not pick up task from snapshot: ok=%v err=%v", ok, err)
	}
	if tm["title"] != "my first task" {
		t.Errorf("got title %q, want %q", tm["title"], "my first task")
	}
}
