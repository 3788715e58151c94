package httpapi

import (
	"encoding/base64"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/auth"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/syncserver"
)

// addVersionReq is the push request body: the version this push extends,
// and its encoded operation payload.
type addVersionReq struct {
	ParentVersionID string `json:"parent_version_id"`
	Payload         string `json:"payload"` // base64
}

type addVersionResp struct {
	Outcome                 string `json:"outcome"` // "ok" | "conflict"
	NewVersionID            string `json:"new_version_id,omitempty"`
	ExpectedParentVersionID string `json:"expected_parent_version_id,omitempty"`
	SnapshotUrgency         string `json:"snapshot_urgency,omitempty"`
}

func urgencyString(u syncserver.SnapshotUrgency) string {
	switch u {
	case syncserver.SnapshotUrgencyLow:
		return "low"
	case syncserver.SnapshotUrgencyHigh:
		return "high"
	default:
		return "none"
	}
}

// AddVersion implements POST /v1/versions.
func (s *Server) AddVersion(w http.ResponseWriter, r *http.Request) {
	var req addVersionReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	parent, err := parseVersionID(req.ParentVersionID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid parent_version_id")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid payload encoding")
		return
	}

	clientKey := auth.ClientKey(r.Context())
	result, urgency, err := s.Core.AddVersion(r.Context(), op.TaskId(clientKey), parent, payload)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("add_version failed")
		writeError(w, r, http.StatusInternalServerError, "server error")
		return
	}

	if result.Outcome == syncserver.AddVersionConflict {
		writeJSON(w, http.StatusConflict, addVersionResp{
			Outcome:                 "conflict",
			ExpectedParentVersionID: uuid.UUID(result.ExpectedParentVersionID).String(),
		})
		return
	}

	writeJSON(w, http.StatusOK, addVersionResp{
		Outcome:         "ok",
		NewVersionID:    uuid.UUID(result.NewVersionID).String(),
		SnapshotUrgency: urgencyString(urgency),
	})
}

type versionResp struct {
	VersionID       string `json:"version_id"`
	ParentVersionID string `json:"parent_version_id"`
	Payload         string `json:"payload"` // base64
}

// GetChildVersion implements GET /v1/versions/child/{parent}. A parent
// value of "nil" names the nil version ID (the bootstrap case).
func (s *Server) GetChildVersion(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "parent")
	var parent op.TaskId
	if raw == "nil" {
		parent = syncserver.NilVersionID
	} else {
		id, err := parseVersionID(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid parent version id")
			return
		}
		parent = id
	}

	clientKey := auth.ClientKey(r.Context())
	res, err := s.Core.GetChildVersion(r.Context(), op.TaskId(clientKey), parent)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("get_child_version failed")
		writeError(w, r, http.StatusInternalServerError, "server error")
		return
	}

	switch res.Outcome {
	case syncserver.GetVersionFound:
		writeJSON(w, http.StatusOK, versionResp{
			VersionID:       uuid.UUID(res.Version.VersionID).String(),
			ParentVersionID: uuid.UUID(res.Version.ParentVersionID).String(),
			Payload:         base64.StdEncoding.EncodeToString(res.Version.Payload),
		})
	case syncserver.GetVersionGone:
		w.WriteHeader(http.StatusGone)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// AddSnapshot implements POST /v1/snapshots/{version}. The server may
// silently discard a stale snapshot; either way the response is 204, since
// rejection is not a client-visible error (spec §4.5).
func (s *Server) AddSnapshot(w http.ResponseWriter, r *http.Request) {
	versionID, err := parseVersionID(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid version id")
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read body")
		return
	}

	clientKey := auth.ClientKey(r.Context())
	if err := s.Core.AddSnapshot(r.Context(), op.TaskId(clientKey), versionID, payload); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("add_snapshot failed")
		writeError(w, r, http.StatusInternalServerError, "server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type snapshotResp struct {
	VersionID string `json:"version_id"`
	Payload   string `json:"payload"` // base64
}

// GetSnapshot implements GET /v1/snapshot.
func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	clientKey := auth.ClientKey(r.Context())
	versionID, payload, ok, err := s.Core.GetSnapshot(r.Context(), op.TaskId(clientKey))
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("get_snapshot failed")
		writeError(w, r, http.StatusInternalServerError, "server error")
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResp{
		VersionID: uuid.UUID(versionID).String(),
		Payload:   base64.StdEncoding.EncodeToString(payload),
	})
}

func parseVersionID(s string) (op.TaskId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return op.TaskId{}, err
	}
	return op.TaskId(id), nil
}
