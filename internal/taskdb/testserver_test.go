package taskdb

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/server"
)

// testServer is an in-process stand-in for a passive sync server, grounded
// on the same version-chain model the real thing implements: a linear chain
// of versions each pointing at its parent, with compare-and-swap semantics
// on the tip.
type testServer struct {
	mu       sync.Mutex
	versions map[op.TaskId]server.Version
	children map[op.TaskId]op.TaskId // parent -> child
	latest   op.TaskId

	urgency  server.SnapshotUrgency
	snapshot *server.Snapshot
}

func newTestServer() *testServer {
	return &testServer{
		versions: make(map[op.TaskId]server.Version),
		children: make(map[op.TaskId]op.TaskId),
	}
}

func (s *testServer) AddVersion(_ context.Context, parent op.TaskId, payload []byte) (server.AddVersionResult, server.SnapshotUrgency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parent != s.latest {
		return server.AddVersionResult{
			Outcome:                 server.AddVersionExpectedParentVersion,
			ExpectedParentVersionID: s.latest,
		}, server.SnapshotUrgencyNone, nil
	}

	newID := uuid.New()
	s.versions[newID] = server.Version{VersionID: newID, ParentVersionID: parent, Payload: payload}
	s.children[parent] = newID
	s.latest = newID

	return server.AddVersionResult{Outcome: server.AddVersionOk, NewVersionID: newID}, s.urgency, nil
}

func (s *testServer) GetChildVersion(_ context.Context, parent op.TaskId) (server.GetVersionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	childID, ok := s.children[parent]
	if !ok {
		return server.GetVersionResult{Outcome: server.GetVersionNoSuchVersion}, nil
	}
	return server.GetVersionResult{Outcome: server.GetVersionFound, Version: s.versions[childID]}, nil
}

func (s *testServer) AddSnapshot(_ context.Context, versionID op.TaskId, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = &server.Snapshot{VersionID: versionID, Payload: payload}
	return nil
}

func (s *testServer) GetSnapshot(_ context.Context) (*server.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, nil
}

func (s *testServer) setUrgency(u server.SnapshotUrgency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urgency = u
}
