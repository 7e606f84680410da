// Package token caches Google OAuth access tokens per refresh token, with
// single-flight refresh, TTL and LRU eviction, and project-id discovery.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/upstream"
)

const (
	GoogleTokenURL = "https://oauth2.googleapis.com/token"

	// Tokens are treated as expired one minute early to absorb clock skew
	// and in-flight request latency.
	expiryMargin = time.Minute

	defaultMaxEntries = 1000
	cleanupInterval   = 5 * time.Minute
)

// FailureKind classifies a refresh failure.
type FailureKind string

const (
	FailureInvalidToken FailureKind = "invalid_token" // 400/401: entry evicted
	FailureRateLimit    FailureKind = "rate_limit"    // 429: entry kept
	FailureNetwork      FailureKind = "network_error" // anything else: entry kept
)

type RefreshError struct {
	Kind   FailureKind
	Status int
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed (%s, http %d): %v", e.Kind, e.Status, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Metrics is a point-in-time snapshot of cache counters.
type Metrics struct {
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	Refreshes        int64 `json:"refreshes"`
	EvictedByCleanup int64 `json:"evictedByCleanup"`
	EvictedByLRU     int64 `json:"evictedByLRU"`
}

type entry struct {
	accessToken    string
	expiresAt      time.Time
	projectID      string
	lastAccessedAt time.Time
}

// Cache is shared across all requests. All map mutations are serialized by
// mu; outbound refreshes are deduplicated by the single-flight group.
type Cache struct {
	// Overridable before first use; test hooks.
	TokenURL           string
	DiscoveryEndpoints []string
	HTTPClient         *http.Client

	clientID        string
	clientSecret    string
	projectOverride string
	maxEntries      int

	mu           sync.Mutex
	entries      map[string]*entry
	fingerprints map[string]Fingerprint
	metrics      Metrics
	cleanupStop  chan struct{}

	group   singleflight.Group
	started time.Time
}

func NewCache(clientID, clientSecret, projectOverride string) *Cache {
	return &Cache{
		TokenURL:           GoogleTokenURL,
		DiscoveryEndpoints: upstream.AntigravityEndpoints,
		HTTPClient:         &http.Client{Timeout: 30 * time.Second},
		clientID:           clientID,
		clientSecret:       clientSecret,
		projectOverride:    projectOverride,
		maxEntries:         defaultMaxEntries,
		entries:            make(map[string]*entry),
		fingerprints:       make(map[string]Fingerprint),
		started:            time.Now(),
	}
}

// GetAccessToken returns a valid access token for the refresh token,
// refreshing through the Google token endpoint on miss. Concurrent misses
// for the same key share one outbound refresh.
func (c *Cache) GetAccessToken(ctx context.Context, refreshToken string) (string, error) {
	now := time.Now()
	c.mu.Lock()
	if e, ok := c.entries[refreshToken]; ok && now.Before(e.expiresAt) {
		e.lastAccessedAt = now
		c.metrics.Hits++
		tok := e.accessToken
		c.mu.Unlock()
		return tok, nil
	}
	c.metrics.Misses++
	c.startCleanupLocked()
	c.mu.Unlock()

	result, err, _ := c.group.Do(refreshToken, func() (any, error) {
		return c.refresh(ctx, refreshToken)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Cache) refresh(ctx context.Context, refreshToken string) (string, error) {
	conf := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: c.TokenURL},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", c.classifyFailure(refreshToken, err)
	}

	c.mu.Lock()
	e, ok := c.entries[refreshToken]
	if !ok {
		e = &entry{}
		c.entries[refreshToken] = e
	}
	e.accessToken = tok.AccessToken
	e.expiresAt = tok.Expiry.Add(-expiryMargin)
	e.lastAccessedAt = time.Now()
	c.metrics.Refreshes++
	c.evictLRULocked()
	c.mu.Unlock()

	log.Printf("🔄 Refreshed access token (valid for %s)", time.Until(tok.Expiry).Round(time.Second))
	return tok.AccessToken, nil
}

func (c *Cache) classifyFailure(refreshToken string, err error) error {
	var retrieve *oauth2.RetrieveError
	if !errors.As(err, &retrieve) || retrieve.Response == nil {
		return &RefreshError{Kind: FailureNetwork, Err: err}
	}
	status := retrieve.Response.StatusCode
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		c.mu.Lock()
		delete(c.entries, refreshToken)
		delete(c.fingerprints, refreshToken)
		c.mu.Unlock()
		return &RefreshError{Kind: FailureInvalidToken, Status: status, Err: err}
	case status == http.StatusTooManyRequests:
		return &RefreshError{Kind: FailureRateLimit, Status: status, Err: err}
	default:
		return &RefreshError{Kind: FailureNetwork, Status: status, Err: err}
	}
}

// evictLRULocked trims the cache to maxEntries by dropping the least
// recently accessed entries. Caller holds mu.
func (c *Cache) evictLRULocked() {
	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for key, e := range c.entries {
			if oldestKey == "" || e.lastAccessedAt.Before(oldest) {
				oldestKey = key
				oldest = e.lastAccessedAt
			}
		}
		delete(c.entries, oldestKey)
		delete(c.fingerprints, oldestKey)
		c.metrics.EvictedByLRU++
	}
}

// startCleanupLocked launches the periodic expired-entry sweep once.
// Caller holds mu.
func (c *Cache) startCleanupLocked() {
	if c.cleanupStop != nil {
		return
	}
	stop := make(chan struct{})
	c.cleanupStop = stop
	go c.cleanupLoop(stop)
}

func (c *Cache) cleanupLoop(stop chan struct{}) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sweepExpired(time.Now())
		}
	}
}

// sweepExpired drops entries whose tokens have expired, together with their
// fingerprints.
func (c *Cache) sweepExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			delete(c.fingerprints, key)
			c.metrics.EvictedByCleanup++
		}
	}
}

// GetMetrics returns a snapshot of the cache counters.
func (c *Cache) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Uptime reports how long this cache (and in practice the process) has
// been alive.
func (c *Cache) Uptime() time.Duration {
	return time.Since(c.started)
}

// ClearCache drops all entries, fingerprints, and counters. Test hook.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.fingerprints = make(map[string]Fingerprint)
	c.metrics = Metrics{}
}

// ResetCleanupTimer stops the periodic sweep so the next miss restarts it.
// Test hook.
func (c *Cache) ResetCleanupTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleanupStop != nil {
		close(c.cleanupStop)
		c.cleanupStop = nil
	}
}

// Size reports the number of cached credential entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
