package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTokenServer(t *testing.T, calls *int64, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	}))
}

func newTestCache(tokenURL string) *Cache {
	c := NewCache("client-id", "client-secret", "")
	c.TokenURL = tokenURL
	return c
}

func TestGetAccessToken_CachesUntilExpiry(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, &calls, 0)
	defer srv.Close()

	c := newTestCache(srv.URL)
	defer c.ResetCleanupTimer()
	ctx := context.Background()

	first, err := c.GetAccessToken(ctx, "rt")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := c.GetAccessToken(ctx, "rt")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first != "at-1" || second != "at-1" {
		t.Fatalf("tokens = %q, %q", first, second)
	}
	if calls != 1 {
		t.Fatalf("token endpoint called %d times, want 1", calls)
	}

	m := c.GetMetrics()
	if m.Misses != 1 || m.Hits != 1 || m.Refreshes != 1 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestGetAccessToken_SingleFlight(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, &calls, 50*time.Millisecond)
	defer srv.Close()

	c := newTestCache(srv.URL)
	defer c.ResetCleanupTimer()

	const workers = 3
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.GetAccessToken(context.Background(), "rt")
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = tok
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("token endpoint called %d times, want 1", calls)
	}
	for i, tok := range results {
		if tok != "at-1" {
			t.Fatalf("worker %d token = %q", i, tok)
		}
	}
	if m := c.GetMetrics(); m.Refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", m.Refreshes)
	}
}

func TestGetAccessToken_InvalidTokenEvicts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been revoked."}`))
	}))
	defer srv.Close()

	c := newTestCache(srv.URL)
	defer c.ResetCleanupTimer()

	_, err := c.GetAccessToken(context.Background(), "revoked")
	if err == nil {
		t.Fatalf("expected error for revoked token")
	}
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("error type = %T", err)
	}
	if refreshErr.Kind != FailureInvalidToken {
		t.Fatalf("kind = %q, want invalid_token", refreshErr.Kind)
	}
	if c.Size() != 0 {
		t.Fatalf("entry should be evicted, size = %d", c.Size())
	}
}

func TestGetAccessToken_RateLimitClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate_limit_exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestCache(srv.URL)
	defer c.ResetCleanupTimer()

	_, err := c.GetAccessToken(context.Background(), "rt")
	var refreshErr *RefreshError
	if !errors.As(err, &refreshErr) || refreshErr.Kind != FailureRateLimit {
		t.Fatalf("expected rate_limit failure, got %v", err)
	}
}

func TestEvictLRU_DropsOldestEntryAndFingerprint(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, &calls, 0)
	defer srv.Close()

	c := newTestCache(srv.URL)
	defer c.ResetCleanupTimer()
	c.maxEntries = 2
	ctx := context.Background()

	for _, rt := range []string{"rt-1", "rt-2", "rt-3"} {
		if _, err := c.GetAccessToken(ctx, rt); err != nil {
			t.Fatalf("GetAccessToken(%s): %v", rt, err)
		}
		c.GetFingerprint(rt)
	}

	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2 after LRU trim", c.Size())
	}
	if m := c.GetMetrics(); m.EvictedByLRU != 1 {
		t.Fatalf("evictedByLRU = %d, want 1", m.EvictedByLRU)
	}

	c.mu.Lock()
	_, entryKept := c.entries["rt-1"]
	_, fpKept := c.fingerprints["rt-1"]
	c.mu.Unlock()
	if entryKept || fpKept {
		t.Fatalf("oldest entry survived: entry=%v fingerprint=%v", entryKept, fpKept)
	}

	// The surviving entries still serve from cache.
	if _, err := c.GetAccessToken(ctx, "rt-3"); err != nil {
		t.Fatalf("GetAccessToken after eviction: %v", err)
	}
	if calls != 3 {
		t.Fatalf("token endpoint called %d times, want 3", calls)
	}
}

func TestCleanupSweep_EvictsExpiredEntries(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, &calls, 0)
	defer srv.Close()

	c := newTestCache(srv.URL)
	defer c.ResetCleanupTimer()
	ctx := context.Background()

	if _, err := c.GetAccessToken(ctx, "rt-old"); err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if _, err := c.GetAccessToken(ctx, "rt-fresh"); err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	c.GetFingerprint("rt-old")

	c.mu.Lock()
	c.entries["rt-old"].expiresAt = time.Now().Add(-time.Minute)
	c.mu.Unlock()

	c.sweepExpired(time.Now())

	if c.Size() != 1 {
		t.Fatalf("size = %d, want 1 after sweep", c.Size())
	}
	if m := c.GetMetrics(); m.EvictedByCleanup != 1 {
		t.Fatalf("evictedByCleanup = %d, want 1", m.EvictedByCleanup)
	}
	c.mu.Lock()
	_, fpKept := c.fingerprints["rt-old"]
	_, freshKept := c.entries["rt-fresh"]
	c.mu.Unlock()
	if fpKept {
		t.Fatalf("fingerprint should be evicted with its entry")
	}
	if !freshKept {
		t.Fatalf("unexpired entry was swept")
	}
}

func TestClearCacheResetsEverything(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, &calls, 0)
	defer srv.Close()

	c := newTestCache(srv.URL)
	defer c.ResetCleanupTimer()

	if _, err := c.GetAccessToken(context.Background(), "rt"); err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	c.GetFingerprint("rt")

	c.ClearCache()

	if c.Size() != 0 {
		t.Fatalf("size = %d after clear", c.Size())
	}
	if m := c.GetMetrics(); m != (Metrics{}) {
		t.Fatalf("metrics not reset: %+v", m)
	}
}

func TestFingerprintShape(t *testing.T) {
	c := NewCache("id", "secret", "")

	fp := c.GetFingerprint("some-refresh-token")

	if len(fp.QuotaUser) != 16 {
		t.Fatalf("quota user length = %d, want 16 hex chars", len(fp.QuotaUser))
	}
	if len(fp.DeviceID) != 32 {
		t.Fatalf("device id length = %d, want 32", len(fp.DeviceID))
	}
	if fp.DeviceID[:16] != fp.QuotaUser {
		t.Fatalf("device id should extend quota user: %q vs %q", fp.DeviceID, fp.QuotaUser)
	}

	// Stable across calls, distinct across tokens.
	if again := c.GetFingerprint("some-refresh-token"); again != fp {
		t.Fatalf("fingerprint not stable: %+v vs %+v", again, fp)
	}
	if other := c.GetFingerprint("another-token"); other == fp {
		t.Fatalf("distinct tokens produced identical fingerprints")
	}
}

func TestGetProjectID_Override(t *testing.T) {
	c := NewCache("id", "secret", "my-project")

	id, err := c.GetProjectID(context.Background(), "rt")
	if err != nil {
		t.Fatalf("GetProjectID: %v", err)
	}
	if id != "my-project" {
		t.Fatalf("project = %q", id)
	}
}

func TestGetProjectID_DiscoversAndCaches(t *testing.T) {
	var tokenCalls int64
	tokenSrv := newTokenServer(t, &tokenCalls, 0)
	defer tokenSrv.Close()

	discoveryCalls := 0
	discovery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		discoveryCalls++
		w.Write([]byte(`{"cloudaicompanionProject":{"id":"proj-42"}}`))
	}))
	defer discovery.Close()

	c := newTestCache(tokenSrv.URL)
	defer c.ResetCleanupTimer()
	c.DiscoveryEndpoints = []string{discovery.URL + "/v1internal"}

	id, err := c.GetProjectID(context.Background(), "rt")
	if err != nil {
		t.Fatalf("GetProjectID: %v", err)
	}
	if id != "proj-42" {
		t.Fatalf("project = %q", id)
	}

	// Second lookup is served from the credential entry.
	if _, err := c.GetProjectID(context.Background(), "rt"); err != nil {
		t.Fatalf("second GetProjectID: %v", err)
	}
	if discoveryCalls != 1 {
		t.Fatalf("discovery called %d times, want 1", discoveryCalls)
	}
}

func TestGetProjectID_StringFormAndFailover(t *testing.T) {
	var tokenCalls int64
	tokenSrv := newTokenServer(t, &tokenCalls, 0)
	defer tokenSrv.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cloudaicompanionProject":"proj-string"}`))
	}))
	defer good.Close()

	c := newTestCache(tokenSrv.URL)
	defer c.ResetCleanupTimer()
	c.DiscoveryEndpoints = []string{bad.URL + "/v1internal", good.URL + "/v1internal"}

	id, err := c.GetProjectID(context.Background(), "rt")
	if err != nil {
		t.Fatalf("GetProjectID: %v", err)
	}
	if id != "proj-string" {
		t.Fatalf("project = %q", id)
	}
}
