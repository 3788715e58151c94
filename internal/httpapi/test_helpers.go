package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/auth"
	"github.com/GothenburgBitFactory/taskchampion-go/internal/syncserver"
)

// newTestServer builds a Server over an in-memory syncserver.Store, the way
// a unit test exercises the router without a real Postgres instance.
func newTestServer() (*Server, auth.Config) {
	authCfg := auth.Config{HS256Secret: "test-secret"}
	s := &Server{
		Core:            syncserver.New(syncserver.NewMemStore(), syncserver.DefaultConfig()),
		AuthConfig:      authCfg,
		RateLimitConfig: RateLimitInfo{WindowSeconds: 60, MaxRequests: 600, Burst: 120},
	}
	return s, authCfg
}

// authedRequest builds a request carrying a valid bearer token for
// clientKey.
func authedRequest(authCfg auth.Config, clientKey uuid.UUID, method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	tok, err := auth.IssueToken(authCfg, clientKey, time.Hour)
	if err != nil {
		panic(err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	return req
}
