package apply

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/storage/memory"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
)

func strp(s string) *string { return &s }

func TestApplyAndRecordCreate(t *testing.T) {
	s := memory.New()
	txn, _ := s.Txn()
	id := uuid.New()

	if _, err := AndRecord(txn, op.NewCreate(id)); err != nil {
		t.Fatalf("AndRecord: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	txn2, _ := s.Txn()
	_, ok, _ := txn2.GetTask(id)
	if !ok {
		t.Fatal("task not created")
	}
	ops, _ := txn2.Operations()
	if len(ops) != 1 || ops[0].Kind != op.Create {
		t.Fatalf("got %+v, want single logged Create", ops)
	}
}

func TestApplyAndRecordCreateExistingIsNoop(t *testing.T) {
	s := memory.New()
	id := uuid.New()

	txn, _ := s.Txn()
	AndRecord(txn, op.NewCreate(id))
	txn.Commit()

	txn2, _ := s.Txn()
	if _, err := AndRecord(txn2, op.NewCreate(id)); err != nil {
		t.Fatalf("AndRecord on existing task should be a no-op, got %v", err)
	}
	txn2.Commit()

	txn3, _ := s.Txn()
	ops, _ := txn3.Operations()
	if len(ops) != 1 {
		t.Fatalf("got %d logged ops, want 1 (second create should not log)", len(ops))
	}
}

func TestApplyAndRecordUpdateAbsentFails(t *testing.T) {
	s := memory.New()
	txn, _ := s.Txn()
	id := uuid.New()

	_, err := AndRecord(txn, op.NewUpdate(id, "title", strp("x"), time.Now()))
	if err == nil {
		t.Fatal("expected error updating an absent task")
	}
	if !errors.Is(err, tcerr.ErrNotFound) {
		t.Errorf("got %v, want KindNotFound", err)
	}
}

func TestApplyAndRecordDeleteAbsentIsNoop(t *testing.T) {
	s := memory.New()
	txn, _ := s.Txn()
	id := uuid.New()

	if _, err := AndRecord(txn, op.NewDelete(id)); err != nil {
		t.Fatalf("deleting an absent task should be a no-op, got %v", err)
	}
	ops, _ := txn.Operations()
	if len(ops) != 0 {
		t.Fatalf("got %d logged ops, want 0", len(ops))
	}
}

func TestApplyOpReplayFailsLoudly(t *testing.T) {
	s := memory.New()
	txn, _ := s.Txn()
	id := uuid.New()

	if err := Op(txn, op.NewDelete(id)); !errors.Is(err, tcerr.ErrNotFound) {
		t.Errorf("deleting absent task via Op should fail with NotFound, got %v", err)
	}

	if err := Op(txn, op.NewCreate(id)); err != nil {
		t.Fatalf("Op create: %v", err)
	}
	if err := Op(txn, op.NewCreate(id)); !errors.Is(err, tcerr.ErrAlreadyExists) {
		t.Errorf("re-creating via Op should fail with AlreadyExists, got %v", err)
	}
}
