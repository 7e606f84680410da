// Package upstream posts generate requests to the Cloud Code backend with
// endpoint failover, capacity backoff, and cross-style fallback.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/reasoning"
	"github.com/cloudshuttle/antigravity-openai-proxy/internal/util"
)

const (
	EndpointDaily    = "https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal"
	EndpointAutopush = "https://autopush-cloudcode-pa.sandbox.googleapis.com/v1internal"
	EndpointProd     = "https://cloudcode-pa.googleapis.com/v1internal"
)

var (
	// AntigravityEndpoints is the failover order for the antigravity style:
	// sandbox daily, sandbox autopush, then production.
	AntigravityEndpoints = []string{EndpointDaily, EndpointAutopush, EndpointProd}

	// GeminiCLIEndpoints only speaks to production.
	GeminiCLIEndpoints = []string{EndpointProd}
)

const (
	StyleAntigravity = "antigravity"
	StyleGeminiCLI   = "gemini-cli"

	// Capacity errors on a single endpoint are retried up to this many times
	// before failing over.
	maxCapacityAttempts = 5

	maxBackoff   = 8000 * time.Millisecond
	maxJitter    = 500
	maxErrorBody = 64 << 10
)

// Options selects the wire profile for a single request.
type Options struct {
	Style string // StyleAntigravity (default) or StyleGeminiCLI
	Model string // used for cross-style fallback decisions

	// Fingerprint headers, antigravity style only. Empty values are omitted.
	QuotaUser string
	DeviceID  string
}

type Client struct {
	httpClient *http.Client
	endpoints  map[string][]string
}

func NewClient() *Client {
	return &Client{
		// Streaming responses can run for minutes; match that generously.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		endpoints: map[string][]string{
			StyleAntigravity: AntigravityEndpoints,
			StyleGeminiCLI:   GeminiCLIEndpoints,
		},
	}
}

// SetEndpoints overrides the endpoint list for a style. Test hook.
func (c *Client) SetEndpoints(style string, endpoints []string) {
	c.endpoints[style] = endpoints
}

// Request posts the payload and returns the first successful response with
// its streaming body intact. Endpoints are tried in order; capacity errors
// (429/503 with a known reason) are retried on the same endpoint with
// exponential backoff. When every antigravity endpoint fails for a model
// that is not Claude-family, the request is rebuilt and retried once in
// gemini-cli style.
func (c *Client) Request(ctx context.Context, payload []byte, accessToken string, opts Options) (*http.Response, error) {
	style := opts.Style
	if style == "" {
		style = StyleAntigravity
	}
	if style == StyleGeminiCLI {
		// The gemini-cli profile only accepts canonical preview model names.
		// Idempotent, so the fallback path below is unaffected.
		model := reasoning.ResolveModelForHeaderStyle(gjson.GetBytes(payload, "model").String(), StyleGeminiCLI)
		if rewritten, err := sjson.SetBytes(payload, "model", model); err == nil {
			payload = rewritten
			opts.Model = model
		}
	}

	var lastErr error
	for _, endpoint := range c.endpoints[style] {
		resp, err := c.tryEndpoint(ctx, endpoint, payload, accessToken, opts, style)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	if style == StyleAntigravity && !reasoning.IsClaudeFamily(opts.Model) {
		log.Printf("⚠️ All antigravity endpoints failed for %s, retrying gemini-cli style: %v", opts.Model, lastErr)
		rebuilt, model, err := rebuildForGeminiCLI(payload)
		if err != nil {
			return nil, lastErr
		}
		fallback := opts
		fallback.Style = StyleGeminiCLI
		fallback.Model = model
		return c.Request(ctx, rebuilt, accessToken, fallback)
	}
	return nil, lastErr
}

func (c *Client) tryEndpoint(ctx context.Context, endpoint string, payload []byte, accessToken string, opts Options, style string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxCapacityAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			endpoint+":streamGenerateContent?alt=sse", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		applyHeaders(req, style, accessToken, opts)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("post %s: %w", endpoint, err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			reason := CapacityReason(body)
			lastErr = fmt.Errorf("%s returned %d (%s): %s", endpoint, resp.StatusCode, reason, util.TruncateBytes(body))
			if reason != "" && attempt < maxCapacityAttempts-1 {
				if err := backoff(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}
		return nil, fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, util.TruncateBytes(body))
	}
	return nil, lastErr
}

// backoff sleeps min(1000·2^attempt, 8000)ms plus up to 500ms of jitter,
// observing cancellation.
func backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(1000<<attempt) * time.Millisecond
	if delay > maxBackoff {
		delay = maxBackoff
	}
	delay += time.Duration(rand.Intn(maxJitter+1)) * time.Millisecond

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rebuildForGeminiCLI strips the antigravity envelope fields and rewrites
// the model name to its canonical preview form.
func rebuildForGeminiCLI(payload []byte) ([]byte, string, error) {
	out := payload
	for _, key := range []string{"requestType", "userAgent", "requestId"} {
		var err error
		out, err = sjson.DeleteBytes(out, key)
		if err != nil {
			return nil, "", err
		}
	}
	model := reasoning.ResolveModelForHeaderStyle(gjson.GetBytes(out, "model").String(), StyleGeminiCLI)
	out, err := sjson.SetBytes(out, "model", model)
	if err != nil {
		return nil, "", err
	}
	return out, model, nil
}
