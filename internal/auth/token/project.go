package token

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/tidwall/gjson"
)

var loadCodeAssistBody = []byte(`{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`)

// GetProjectID returns the Cloud Code project for the refresh token. An
// ANTIGRAVITY_PROJECT_ID override short-circuits discovery; otherwise the
// discovered id is cached on the credential entry.
func (c *Cache) GetProjectID(ctx context.Context, refreshToken string) (string, error) {
	if c.projectOverride != "" {
		return c.projectOverride, nil
	}

	c.mu.Lock()
	if e, ok := c.entries[refreshToken]; ok && e.projectID != "" {
		id := e.projectID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	accessToken, err := c.GetAccessToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	var lastErr error
	for _, endpoint := range c.DiscoveryEndpoints {
		id, err := c.loadCodeAssist(ctx, endpoint, accessToken)
		if err != nil {
			lastErr = err
			continue
		}
		c.mu.Lock()
		if e, ok := c.entries[refreshToken]; ok {
			e.projectID = id
		}
		c.mu.Unlock()
		log.Printf("🔍 Discovered project %s via %s", id, endpoint)
		return id, nil
	}
	return "", fmt.Errorf("project discovery failed on all endpoints: %w", lastErr)
}

func (c *Cache) loadCodeAssist(ctx context.Context, endpoint, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint+":loadCodeAssist", bytes.NewReader(loadCodeAssistBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loadCodeAssist: %s returned %d", endpoint, resp.StatusCode)
	}

	// cloudaicompanionProject is a plain string on some accounts and an
	// object with an id field on others.
	project := gjson.GetBytes(data, "cloudaicompanionProject")
	id := project.String()
	if project.IsObject() {
		id = project.Get("id").String()
	}
	if id == "" {
		return "", fmt.Errorf("loadCodeAssist: %s returned no project", endpoint)
	}
	return id, nil
}
