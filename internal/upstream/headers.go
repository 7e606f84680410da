package upstream

import (
	"math/rand"
	"net/http"
)

// Header profiles. The backend fingerprints clients on these; each request
// picks uniformly at random from the pool for its style.

var antigravityUserAgents = []string{
	"antigravity/1.104.3 darwin/arm64",
	"antigravity/1.104.3 darwin/amd64",
	"antigravity/1.104.3 windows/amd64",
	"antigravity/1.104.3 windows/arm64",
	"antigravity/1.104.3 linux/amd64",
}

var antigravityAPIClients = []string{
	"google-cloud-sdk vscode_cloudshelleditor/0.1",
	"gl-node/22.12.0",
	"gl-node/20.18.1",
}

var antigravityClientMetadata = []string{
	`{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
	`{"ideType":"IDE_UNSPECIFIED","platform":"DARWIN","pluginType":"GEMINI"}`,
	`{"ideType":"IDE_UNSPECIFIED","platform":"WINDOWS","pluginType":"GEMINI"}`,
}

var geminiCLIUserAgents = []string{
	"GeminiCLI/0.9.4 (darwin; arm64) node/22.12.0",
	"GeminiCLI/0.9.4 (win32; x64) node/22.12.0",
	"GeminiCLI/0.9.4 (linux; x64) node/20.18.1",
}

var geminiCLIAPIClients = []string{
	"gl-node/22.12.0 gemini-cli/0.9.4",
	"gl-node/20.18.1 gemini-cli/0.9.4",
}

var geminiCLIClientMetadata = []string{
	`{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI","duetProject":""}`,
}

func pick(pool []string) string {
	return pool[rand.Intn(len(pool))]
}

func applyHeaders(req *http.Request, style, accessToken string, opts Options) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("anthropic-beta", "interleaved-thinking-2025-05-14")

	if style == StyleGeminiCLI {
		req.Header.Set("User-Agent", pick(geminiCLIUserAgents))
		req.Header.Set("X-Goog-Api-Client", pick(geminiCLIAPIClients))
		req.Header.Set("Client-Metadata", pick(geminiCLIClientMetadata))
		return
	}

	req.Header.Set("User-Agent", pick(antigravityUserAgents))
	req.Header.Set("X-Goog-Api-Client", pick(antigravityAPIClients))
	req.Header.Set("Client-Metadata", pick(antigravityClientMetadata))
	if opts.QuotaUser != "" {
		req.Header.Set("X-Goog-QuotaUser", opts.QuotaUser)
	}
	if opts.DeviceID != "" {
		req.Header.Set("X-Client-Device-Id", opts.DeviceID)
	}
}
