package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GothenburgBitFactory/taskchampion-go/internal/auth"
)

func TestTokenBucketAllowsBurstThenThrottles(t *testing.T) {
	tb := NewTokenBucket(2, 1.0) // burst of 2, refills 1/sec

	if allowed, _, _, _ := tb.Allow(); !allowed {
		t.Fatal("first request should be allowed")
	}
	if allowed, _, _, _ := tb.Allow(); !allowed {
		t.Fatal("second request should be allowed (within burst)")
	}
	if allowed, _, _, _ := tb.Allow(); allowed {
		t.Fatal("third request should be throttled")
	}
}

func TestRateLimitMiddlewareReturns429WhenExhausted(t *testing.T) {
	cfg := RateLimitInfo{WindowSeconds: 60, MaxRequests: 10, Burst: 2}
	clientKey := uuid.New()

	handler := RateLimitMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	makeReq := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/v1/versions", nil)
		ctx := req.Context()
		req = req.WithContext(withClientKey(ctx, clientKey))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	if w := makeReq(); w.Code != http.StatusOK {
		t.Fatalf("request 1: got %d, want 200", w.Code)
	}
	if w := makeReq(); w.Code != http.StatusOK {
		t.Fatalf("request 2: got %d, want 200", w.Code)
	}
	w := makeReq()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("request 3: got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header on a throttled response")
	}
}

func TestRateLimitMiddlewareSkipsUnauthenticatedRequests(t *testing.T) {
	cfg := RateLimitInfo{WindowSeconds: 60, MaxRequests: 10, Burst: 1}

	calls := 0
	handler := RateLimitMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/v1/snapshot", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200 (no client key to rate-limit on)", i, w.Code)
		}
	}
	if calls != 5 {
		t.Errorf("got %d calls through, want 5", calls)
	}
}

// withClientKey returns a context carrying key, obtained by passing a
// request with a freshly issued bearer token through auth.Middleware.
func withClientKey(ctx context.Context, key uuid.UUID) context.Context {
	cfg := auth.Config{HS256Secret: "test-secret"}
	tok, err := auth.IssueToken(cfg, key, time.Hour)
	if err != nil {
		panic(err)
	}
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	var captured context.Context
	auth.Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Context()
	})).ServeHTTP(httptest.NewRecorder(), req)
	return captured
}
