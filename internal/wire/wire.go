// Package wire implements the two payload encodings that cross the
// storage/transport boundary opaquely as far as the sync engine and server
// contract are concerned (spec §6): the Version payload, an ordered batch of
// SyncOps, and the Snapshot payload, a full task dump.
//
// Both encodings are a replica's own business; a server never interprets
// them. They are kept in their own package, apart from the sync engine in
// internal/taskdb that uses them.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/storage"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
)

// timestampLayout renders RFC 3339 with up to microsecond precision,
// trimming trailing zeros the way Rust's chrono does, so a round trip
// through EncodeVersion/DecodeVersion reproduces the same string.
const timestampLayout = "2006-01-02T15:04:05.999999Z07:00"

// createFields, deleteFields, and updateFields are the JSON shapes nested
// under each SyncOp's single tag. Field names and casing match the wire
// format read off the server, so they are not Go-idiomatic exported types;
// they exist only to drive json.Marshal/Unmarshal.
type createFields struct {
	UUID uuid.UUID `json:"uuid"`
}

type deleteFields struct {
	UUID uuid.UUID `json:"uuid"`
}

type updateFields struct {
	UUID      uuid.UUID `json:"uuid"`
	Property  string    `json:"property"`
	Value     *string   `json:"value"`
	Timestamp string    `json:"timestamp"`
}

// EncodeVersion renders a batch of SyncOps as a Version payload: a JSON
// array where each element has exactly one top-level key naming the op's
// kind ("Create", "Delete", or "Update"), whose value is that variant's
// fields.
func EncodeVersion(ops []op.SyncOp) ([]byte, error) {
	raw := make([]json.RawMessage, len(ops))
	for i, so := range ops {
		var tagged map[string]any
		switch so.Kind {
		case op.Create:
			tagged = map[string]any{"Create": createFields{UUID: so.UUID}}
		case op.Delete:
			tagged = map[string]any{"Delete": deleteFields{UUID: so.UUID}}
		case op.Update:
			tagged = map[string]any{"Update": updateFields{
				UUID:      so.UUID,
				Property:  so.Property,
				Value:     so.Value,
				Timestamp: so.Timestamp.UTC().Format(timestampLayout),
			}}
		default:
			return nil, tcerr.New(tcerr.KindStorage, "cannot encode a %s op into a version payload", so.Kind)
		}
		b, err := json.Marshal(tagged)
		if err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "encode op %d", i)
		}
		raw[i] = b
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, tcerr.Wrap(tcerr.KindStorage, err, "encode version payload")
	}
	return out, nil
}

// DecodeVersion parses a Version payload back into the ordered batch of
// SyncOps it encodes.
func DecodeVersion(payload []byte) ([]op.SyncOp, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode version payload")
	}
	ops := make([]op.SyncOp, len(raw))
	for i, tagged := range raw {
		if len(tagged) != 1 {
			return nil, tcerr.New(tcerr.KindCorruption, "op %d has %d tags, want 1", i, len(tagged))
		}
		for tag, body := range tagged {
			switch tag {
			case "Create":
				var f createFields
				if err := json.Unmarshal(body, &f); err != nil {
					return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode Create at %d", i)
				}
				ops[i] = op.NewCreate(f.UUID)
			case "Delete":
				var f deleteFields
				if err := json.Unmarshal(body, &f); err != nil {
					return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode Delete at %d", i)
				}
				ops[i] = op.NewDelete(f.UUID)
			case "Update":
				var f updateFields
				if err := json.Unmarshal(body, &f); err != nil {
					return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode Update at %d", i)
				}
				ts, err := time.Parse(time.RFC3339Nano, f.Timestamp)
				if err != nil {
					return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode Update timestamp at %d", i)
				}
				ops[i] = op.NewUpdate(f.UUID, f.Property, f.Value, ts)
			default:
				return nil, tcerr.New(tcerr.KindCorruption, "op %d has unknown tag %q", i, tag)
			}
		}
	}
	return ops, nil
}

// snapshotMagic tags the encoding so a corrupt or foreign payload is
// rejected immediately rather than misparsed.
const snapshotMagic uint32 = 0x7443534e // "tCSN" in ASCII

// EncodeSnapshot renders a full task dump as a Snapshot payload: a
// length-prefixed list of (uuid, TaskMap) pairs. The encoding is
// implementation-private; a server only ever stores and returns these bytes
// unchanged, so the only real constraint is that DecodeSnapshot inverts it.
func EncodeSnapshot(entries []storage.TaskEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, snapshotMagic); err != nil {
		return nil, tcerr.Wrap(tcerr.KindStorage, err, "encode snapshot magic")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(entries))); err != nil {
		return nil, tcerr.Wrap(tcerr.KindStorage, err, "encode snapshot length")
	}
	for _, e := range entries {
		idBytes, err := e.UUID.MarshalBinary()
		if err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "encode snapshot uuid")
		}
		buf.Write(idBytes)
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(e.Task))); err != nil {
			return nil, tcerr.Wrap(tcerr.KindStorage, err, "encode snapshot task size")
		}
		for k, v := range e.Task {
			if err := writeString(&buf, k); err != nil {
				return nil, err
			}
			if err := writeString(&buf, v); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a Snapshot payload back into the (uuid, TaskMap)
// pairs it encodes, in the order they were written.
func DecodeSnapshot(payload []byte) ([]storage.TaskEntry, error) {
	buf := bytes.NewReader(payload)

	var magic uint32
	if err := binary.Read(buf, binary.BigEndian, &magic); err != nil {
		return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode snapshot magic")
	}
	if magic != snapshotMagic {
		return nil, tcerr.New(tcerr.KindCorruption, "snapshot payload has bad magic %#x", magic)
	}

	var count uint32
	if err := binary.Read(buf, binary.BigEndian, &count); err != nil {
		return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode snapshot length")
	}

	entries := make([]storage.TaskEntry, count)
	for i := range entries {
		idBytes := make([]byte, 16)
		if _, err := io.ReadFull(buf, idBytes); err != nil {
			return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode snapshot uuid at %d", i)
		}
		id, err := uuid.FromBytes(idBytes)
		if err != nil {
			return nil, tcerr.Wrap(tcerr.KindCorruption, err, "parse snapshot uuid at %d", i)
		}

		var propCount uint32
		if err := binary.Read(buf, binary.BigEndian, &propCount); err != nil {
			return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode snapshot task size at %d", i)
		}
		tm := make(op.TaskMap, propCount)
		for j := uint32(0); j < propCount; j++ {
			k, err := readString(buf)
			if err != nil {
				return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode property key at task %d", i)
			}
			v, err := readString(buf)
			if err != nil {
				return nil, tcerr.Wrap(tcerr.KindCorruption, err, "decode property value at task %d", i)
			}
			tm[k] = v
		}
		entries[i] = storage.TaskEntry{UUID: id, Task: tm}
	}
	return entries, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(s))); err != nil {
		return tcerr.Wrap(tcerr.KindStorage, err, "encode string length")
	}
	buf.WriteString(s)
	return nil
}

func readString(buf *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(buf, b); err != nil {
		return "", err
	}
	return string(b), nil
}
