// Package op defines the operation model shared by every replica: the
// wire-level SyncOp, the richer LoggedOp the local log stores, and the
// pairwise transform that lets two replicas which applied different
// operations converge back to a common state.
package op

import (
	"time"

	"github.com/google/uuid"
)

// TaskId identifies a task. The all-zero value is reserved to mean "no
// parent version" at the root of a server's version chain; it is never a
// real task's id in practice, but the type places no such constraint.
type TaskId = uuid.UUID

// TaskMap is the per-task property bag: an unordered string-to-string map.
// An empty map is a valid, fully-formed task with no attributes. Meaning
// (status, tags, dependencies, ...) is imposed by convention elsewhere; this
// package places no constraint on keys or values beyond them being UTF-8
// Go strings.
type TaskMap map[string]string

// Clone returns a shallow copy of the map, since TaskMap values are handed
// out to callers who must not be able to mutate a replica's internal state
// through the returned reference.
func (t TaskMap) Clone() TaskMap {
	if t == nil {
		return TaskMap{}
	}
	c := make(TaskMap, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// Kind distinguishes the variants of SyncOp and LoggedOp.
type Kind int

const (
	Create Kind = iota
	Delete
	Update
	// UndoPoint only appears on LoggedOp; it is a marker with no task
	// effect, recording the boundary of a user-visible edit.
	UndoPoint
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "Create"
	case Delete:
		return "Delete"
	case Update:
		return "Update"
	case UndoPoint:
		return "UndoPoint"
	default:
		return "Unknown"
	}
}

// SyncOp is the wire/intent-level operation: what gets sent to, and
// received from, the server. It never carries reversal context.
type SyncOp struct {
	Kind Kind
	UUID TaskId

	// Update fields.
	Property string
	// Value is nil for a property deletion.
	Value     *string
	Timestamp time.Time
}

func NewCreate(uuid TaskId) SyncOp {
	return SyncOp{Kind: Create, UUID: uuid}
}

func NewDelete(uuid TaskId) SyncOp {
	return SyncOp{Kind: Delete, UUID: uuid}
}

func NewUpdate(uuid TaskId, property string, value *string, timestamp time.Time) SyncOp {
	return SyncOp{Kind: Update, UUID: uuid, Property: property, Value: value, Timestamp: timestamp}
}

// LoggedOp is what the local operation log stores: a superset of SyncOp
// that carries enough context (the prior value) to be reversed.
type LoggedOp struct {
	Kind Kind
	UUID TaskId

	// Delete fields.
	OldTask TaskMap

	// Update fields.
	Property string
	OldValue *string
	Value    *string

	Timestamp time.Time
}

func NewLoggedCreate(uuid TaskId) LoggedOp {
	return LoggedOp{Kind: Create, UUID: uuid}
}

func NewLoggedDelete(uuid TaskId, oldTask TaskMap) LoggedOp {
	return LoggedOp{Kind: Delete, UUID: uuid, OldTask: oldTask.Clone()}
}

func NewLoggedUpdate(uuid TaskId, property string, oldValue, value *string, timestamp time.Time) LoggedOp {
	return LoggedOp{
		Kind:      Update,
		UUID:      uuid,
		Property:  property,
		OldValue:  oldValue,
		Value:     value,
		Timestamp: timestamp,
	}
}

func NewUndoPoint() LoggedOp {
	return LoggedOp{Kind: UndoPoint}
}

// Project discards the reversal-only fields, producing the SyncOp that is
// sent to the server. UndoPoint has no SyncOp projection; ok is false.
func (l LoggedOp) Project() (SyncOp, bool) {
	switch l.Kind {
	case Create:
		return NewCreate(l.UUID), true
	case Delete:
		return NewDelete(l.UUID), true
	case Update:
		return NewUpdate(l.UUID, l.Property, l.Value, l.Timestamp), true
	default: // UndoPoint
		return SyncOp{}, false
	}
}

// ProjectLog discards UndoPoint markers and projects every other LoggedOp
// to its SyncOp, preserving order.
func ProjectLog(log []LoggedOp) []SyncOp {
	ops := make([]SyncOp, 0, len(log))
	for _, l := range log {
		if so, ok := l.Project(); ok {
			ops = append(ops, so)
		}
	}
	return ops
}

// strPtr copies a *string so the result does not alias the input.
func strPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func strEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ReverseOps returns, in order, the SyncOps whose application undoes this
// LoggedOp. Create reverses to a Delete; Delete reverses to a Create
// followed by one Update per property in the captured pre-deletion map;
// Update reverses to a single Update restoring the prior value; UndoPoint
// reverses to nothing.
//
// The "now" timestamp is used for the reversing SyncOps, per spec: reversal
// timestamps are not the original operation's timestamp.
func (l LoggedOp) ReverseOps(now time.Time) []SyncOp {
	switch l.Kind {
	case Create:
		return []SyncOp{NewDelete(l.UUID)}
	case Delete:
		ops := make([]SyncOp, 0, 1+len(l.OldTask))
		ops = append(ops, NewCreate(l.UUID))
		for prop, val := range l.OldTask {
			v := val
			ops = append(ops, NewUpdate(l.UUID, prop, &v, now))
		}
		return ops
	case Update:
		return []SyncOp{NewUpdate(l.UUID, l.Property, strPtr(l.OldValue), now)}
	default: // UndoPoint
		return nil
	}
}

// Transform implements the diamond-completion rule table from the
// synchronization protocol. Given two operations o1 and o2 known to share a
// common ancestor state, it returns rewritten forms o1' and o2' such that
//
//	apply(apply(S, o1), o2') == apply(apply(S, o2), o1')
//
// A nil return for either half means "no operation required". Rules are
// matched in the order given; earlier rules win.
func Transform(o1, o2 SyncOp) (*SyncOp, *SyncOp) {
	sameUUID := o1.UUID == o2.UUID

	switch {
	case sameUUID && o1.Kind == Create && o2.Kind == Create:
		return nil, nil
	case sameUUID && o1.Kind == Delete && o2.Kind == Delete:
		return nil, nil
	case sameUUID && o1.Kind == Create && o2.Kind == Delete:
		return opPtr(o1), nil
	case sameUUID && o1.Kind == Delete && o2.Kind == Create:
		return nil, opPtr(o2)
	case sameUUID && o1.Kind == Update && o2.Kind == Create:
		return opPtr(o1), nil
	case sameUUID && o1.Kind == Create && o2.Kind == Update:
		return nil, opPtr(o2)
	case sameUUID && o1.Kind == Update && o2.Kind == Delete:
		return nil, opPtr(o2)
	case sameUUID && o1.Kind == Delete && o2.Kind == Update:
		return opPtr(o1), nil
	case sameUUID && o1.Kind == Update && o2.Kind == Update && o1.Property == o2.Property:
		switch {
		case strEqual(o1.Value, o2.Value):
			return nil, nil
		case o1.Timestamp.Before(o2.Timestamp):
			return nil, opPtr(o2)
		default:
			return opPtr(o1), nil
		}
	default:
		return opPtr(o1), opPtr(o2)
	}
}

func opPtr(o SyncOp) *SyncOp {
	return &o
}
