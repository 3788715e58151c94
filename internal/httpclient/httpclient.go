// Package httpclient is the replica-side implementation of
// internal/server.Server: the concrete transport a replica uses to reach
// the chi-routed sync server over HTTP, with retry on transient failures
// (network errors, 429 and 5xx responses). A push that loses the race to
// extend the chain (HTTP 409) is not retried here; it is returned as
// AddVersionExpectedParentVersion for the sync engine to rebase and push
// again.
package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/op"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/server"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/tcerr"
)

// Client talks to a sync server over HTTP on behalf of a single replica.
// It implements internal/server.Server.
type Client struct {
	baseURL    string
	clientKey  uuid.UUID
	token      string
	httpClient *http.Client
}

// New builds a Client. token is a bearer token issued out of band by the
// server (or minted locally via internal/auth.IssueToken in a trusted
// deployment) whose subject is clientKey.
func New(baseURL string, clientKey uuid.UUID, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		clientKey:  clientKey,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// retryPolicy bounds how long a single call will retry transient failures
// (network errors, 429, 5xx) before giving up.
func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// isRetryable reports whether status warrants a retry rather than being
// handed back to the caller as a terminal result.
func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// do executes req, retrying transient failures with exponential backoff.
// The response body is read fully into memory and returned as the byte
// slice alongside the response; the response's own Body is already closed.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, []byte, error) {
	var resp *http.Response
	var respBody []byte

	op := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-Correlation-ID", uuid.New().String())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			return err // network error, retry
		}
		defer r.Body.Close()

		b, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}

		if isRetryable(r.StatusCode) {
			log.Ctx(ctx).Warn().
				Int("status", r.StatusCode).
				Str("path", path).
				Msg("transient sync server error, retrying")
			return fmt.Errorf("transient server error: %d", r.StatusCode)
		}

		resp = r
		respBody = b
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(retryPolicy(), ctx)); err != nil {
		return nil, nil, tcerr.Wrap(tcerr.KindServer, err, "request to sync server failed")
	}
	return resp, respBody, nil
}

type addVersionReq struct {
	ParentVersionID string `json:"parent_version_id"`
	Payload         string `json:"payload"`
}

type addVersionResp struct {
	Outcome                 string `json:"outcome"`
	NewVersionID            string `json:"new_version_id,omitempty"`
	ExpectedParentVersionID string `json:"expected_parent_version_id,omitempty"`
	SnapshotUrgency         string `json:"snapshot_urgency,omitempty"`
}

func parseUrgency(s string) server.SnapshotUrgency {
	switch s {
	case "low":
		return server.SnapshotUrgencyLow
	case "high":
		return server.SnapshotUrgencyHigh
	default:
		return server.SnapshotUrgencyNone
	}
}

// AddVersion implements internal/server.Server.
func (c *Client) AddVersion(ctx context.Context, parent op.TaskId, payload []byte) (server.AddVersionResult, server.SnapshotUrgency, error) {
	reqBody, err := json.Marshal(addVersionReq{
		ParentVersionID: uuid.UUID(parent).String(),
		Payload:         base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return server.AddVersionResult{}, server.SnapshotUrgencyNone, tcerr.Wrap(tcerr.KindServer, err, "encode add_version request")
	}

	resp, body, err := c.do(ctx, http.MethodPost, "/v1/versions", reqBody)
	if err != nil {
		return server.AddVersionResult{}, server.SnapshotUrgencyNone, err
	}

	var parsed addVersionResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return server.AddVersionResult{}, server.SnapshotUrgencyNone, tcerr.Wrap(tcerr.KindServer, err, "decode add_version response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
		newID, err := uuid.Parse(parsed.NewVersionID)
		if err != nil {
			return server.AddVersionResult{}, server.SnapshotUrgencyNone, tcerr.Wrap(tcerr.KindServer, err, "parse new_version_id")
		}
		return server.AddVersionResult{
			Outcome:      server.AddVersionOk,
			NewVersionID: op.TaskId(newID),
		}, parseUrgency(parsed.SnapshotUrgency), nil
	case http.StatusConflict:
		expected, err := uuid.Parse(parsed.ExpectedParentVersionID)
		if err != nil {
			return server.AddVersionResult{}, server.SnapshotUrgencyNone, tcerr.Wrap(tcerr.KindServer, err, "parse expected_parent_version_id")
		}
		return server.AddVersionResult{
			Outcome:                 server.AddVersionExpectedParentVersion,
			ExpectedParentVersionID: op.TaskId(expected),
		}, server.SnapshotUrgencyNone, nil
	default:
		return server.AddVersionResult{}, server.SnapshotUrgencyNone, tcerr.New(tcerr.KindServer, "unexpected add_version status %d", resp.StatusCode)
	}
}

type versionResp struct {
	VersionID       string `json:"version_id"`
	ParentVersionID string `json:"parent_version_id"`
	Payload         string `json:"payload"`
}

// GetChildVersion implements internal/server.Server. The server's 410 Gone
// (compacted-away version) and 404 Not Found (caller is caught up) are both
// reported to the sync engine as GetVersionNoSuchVersion: the engine has no
// use for the distinction, only the HTTP transport and its logs do.
func (c *Client) GetChildVersion(ctx context.Context, parent op.TaskId) (server.GetVersionResult, error) {
	path := "/v1/versions/child/" + uuid.UUID(parent).String()
	resp, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return server.GetVersionResult{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var parsed versionResp
		if err := json.Unmarshal(body, &parsed); err != nil {
			return server.GetVersionResult{}, tcerr.Wrap(tcerr.KindServer, err, "decode get_child_version response")
		}
		versionID, err := uuid.Parse(parsed.VersionID)
		if err != nil {
			return server.GetVersionResult{}, tcerr.Wrap(tcerr.KindServer, err, "parse version_id")
		}
		parentID, err := uuid.Parse(parsed.ParentVersionID)
		if err != nil {
			return server.GetVersionResult{}, tcerr.Wrap(tcerr.KindServer, err, "parse parent_version_id")
		}
		payload, err := base64.StdEncoding.DecodeString(parsed.Payload)
		if err != nil {
			return server.GetVersionResult{}, tcerr.Wrap(tcerr.KindServer, err, "decode payload")
		}
		return server.GetVersionResult{
			Outcome: server.GetVersionFound,
			Version: server.Version{
				VersionID:       op.TaskId(versionID),
				ParentVersionID: op.TaskId(parentID),
				Payload:         payload,
			},
		}, nil
	case http.StatusNotFound, http.StatusGone:
		return server.GetVersionResult{Outcome: server.GetVersionNoSuchVersion}, nil
	default:
		return server.GetVersionResult{}, tcerr.New(tcerr.KindServer, "unexpected get_child_version status %d", resp.StatusCode)
	}
}

// AddSnapshot implements internal/server.Server. A server-side rejection of
// a stale snapshot is not surfaced as an error, since the server answers 204
// either way; transport failures and any other status are returned as
// errors.
func (c *Client) AddSnapshot(ctx context.Context, versionID op.TaskId, payload []byte) error {
	path := "/v1/snapshots/" + uuid.UUID(versionID).String()
	resp, _, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return tcerr.New(tcerr.KindServer, "unexpected add_snapshot status %d", resp.StatusCode)
	}
	return nil
}

type snapshotResp struct {
	VersionID string `json:"version_id"`
	Payload   string `json:"payload"`
}

// GetSnapshot implements internal/server.Server.
func (c *Client) GetSnapshot(ctx context.Context) (*server.Snapshot, error) {
	resp, body, err := c.do(ctx, http.MethodGet, "/v1/snapshot", nil)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var parsed snapshotResp
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, tcerr.Wrap(tcerr.KindServer, err, "decode get_snapshot response")
		}
		versionID, err := uuid.Parse(parsed.VersionID)
		if err != nil {
			return nil, tcerr.Wrap(tcerr.KindServer, err, "parse version_id")
		}
		payload, err := base64.StdEncoding.DecodeString(parsed.Payload)
		if err != nil {
			return nil, tcerr.Wrap(tcerr.KindServer, err, "decode payload")
		}
		return &server.Snapshot{VersionID: op.TaskId(versionID), Payload: payload}, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, tcerr.New(tcerr.KindServer, "unexpected get_snapshot status %d", resp.StatusCode)
	}
}
