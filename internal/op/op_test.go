package op

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func strp(s string) *string { return &s }

func TestReverseCreate(t *testing.T) {
	id := uuid.New()
	l := NewLoggedCreate(id)
	rev := l.ReverseOps(time.Now())
	if len(rev) != 1 || rev[0].Kind != Delete || rev[0].UUID != id {
		t.Fatalf("got %+v, want single Delete", rev)
	}
}

func TestReverseDeleteRestoresProperties(t *testing.T) {
	id := uuid.New()
	l := NewLoggedDelete(id, TaskMap{"title": "buy milk"})
	rev := l.ReverseOps(time.Now())
	if len(rev) != 2 {
		t.Fatalf("got %d ops, want 2 (Create + Update)", len(rev))
	}
	if rev[0].Kind != Create {
		t.Errorf("first op = %v, want Create", rev[0].Kind)
	}
	if rev[1].Kind != Update || rev[1].Property != "title" || *rev[1].Value != "buy milk" {
		t.Errorf("second op = %+v, want Update(title, buy milk)", rev[1])
	}
}

func TestReverseUpdateRestoresOldValue(t *testing.T) {
	id := uuid.New()
	l := NewLoggedUpdate(id, "status", strp("pending"), strp("completed"), time.Now())
	rev := l.ReverseOps(time.Now())
	if len(rev) != 1 || rev[0].Kind != Update || *rev[0].Value != "pending" {
		t.Fatalf("got %+v, want Update restoring pending", rev)
	}
}

func TestReverseUpdateFromNoValue(t *testing.T) {
	id := uuid.New()
	l := NewLoggedUpdate(id, "status", nil, strp("completed"), time.Now())
	rev := l.ReverseOps(time.Now())
	if len(rev) != 1 || rev[0].Value != nil {
		t.Fatalf("got %+v, want Update clearing the property", rev)
	}
}

func TestReverseUndoPointIsEmpty(t *testing.T) {
	if ops := NewUndoPoint().ReverseOps(time.Now()); ops != nil {
		t.Errorf("got %+v, want nil", ops)
	}
}

func TestTransformCreateCreate(t *testing.T) {
	id := uuid.New()
	o1, o2 := Transform(NewCreate(id), NewCreate(id))
	if o1 != nil || o2 != nil {
		t.Errorf("Create/Create = %v, %v, want nil, nil", o1, o2)
	}
}

func TestTransformCreateDelete(t *testing.T) {
	id := uuid.New()
	create := NewCreate(id)
	del := NewDelete(id)
	o1, o2 := Transform(create, del)
	if o2 != nil {
		t.Errorf("o2 = %v, want nil", o2)
	}
	if o1 == nil || o1.Kind != Create {
		t.Errorf("o1 = %v, want Create", o1)
	}
}

func TestTransformUpdateUpdateSameValueCancels(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	u1 := NewUpdate(id, "title", strp("same"), now)
	u2 := NewUpdate(id, "title", strp("same"), now.Add(time.Second))
	o1, o2 := Transform(u1, u2)
	if o1 != nil || o2 != nil {
		t.Errorf("got %v, %v, want nil, nil for identical values", o1, o2)
	}
}

func TestTransformUpdateUpdateLastWriteWins(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	earlier := NewUpdate(id, "title", strp("a"), now)
	later := NewUpdate(id, "title", strp("b"), now.Add(time.Second))

	o1, o2 := Transform(earlier, later)
	if o1 != nil {
		t.Errorf("o1 = %v, want nil (later op wins)", o1)
	}
	if o2 == nil || *o2.Value != "b" {
		t.Errorf("o2 = %v, want Update to b", o2)
	}

	o1, o2 = Transform(later, earlier)
	if o2 != nil {
		t.Errorf("o2 = %v, want nil (later op wins)", o2)
	}
	if o1 == nil || *o1.Value != "b" {
		t.Errorf("o1 = %v, want Update to b", o1)
	}
}

func TestTransformUnrelatedTasksPassThrough(t *testing.T) {
	u1 := NewUpdate(uuid.New(), "title", strp("a"), time.Now())
	u2 := NewUpdate(uuid.New(), "title", strp("b"), time.Now())
	o1, o2 := Transform(u1, u2)
	if o1 == nil || o2 == nil {
		t.Fatalf("got %v, %v, want both unchanged", o1, o2)
	}
	if *o1.Value != "a" || *o2.Value != "b" {
		t.Errorf("transform mutated unrelated ops: %+v, %+v", o1, o2)
	}
}
