// Package reasoning maps the OpenAI reasoning_effort knob onto the three
// shapes the backend understands: a model-name tier suffix (Gemini 3 Pro),
// a categorical thinking level (Gemini 3 Flash), and a numeric token budget
// (Claude and other thinking models).
package reasoning

import (
	"strings"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/translate"
)

// DefaultThinkingBudget is used when reasoning_effort is absent and no
// THINKING_BUDGET override is configured.
const DefaultThinkingBudget = 16000

// claudeThinkingMaxTokens is forced as maxOutputTokens for Claude thinking
// requests; the backend rejects budgets that meet or exceed the output cap.
const claudeThinkingMaxTokens = 64000

func IsClaudeFamily(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "claude") || strings.Contains(m, "opus")
}

func IsThinkingCapable(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "thinking") || strings.Contains(m, "gemini-3") || strings.Contains(m, "opus")
}

func IsGemini3Pro(model string) bool {
	return strings.Contains(strings.ToLower(model), "gemini-3-pro")
}

func IsGemini3Flash(model string) bool {
	return strings.Contains(strings.ToLower(model), "gemini-3-flash")
}

var tierSuffixes = []string{"-minimal", "-low", "-medium", "-high"}

func hasTierSuffix(model string) bool {
	m := strings.ToLower(model)
	for _, suffix := range tierSuffixes {
		if strings.HasSuffix(m, suffix) {
			return true
		}
	}
	return false
}

func stripTierSuffix(model string) string {
	m := strings.ToLower(model)
	for _, suffix := range tierSuffixes {
		if strings.HasSuffix(m, suffix) {
			return model[:len(model)-len(suffix)]
		}
	}
	return model
}

// proSuffix maps effort to the Gemini 3 Pro tier. Pro only distinguishes
// low and high.
func proSuffix(effort string) string {
	if effort == "high" {
		return "high"
	}
	return "low"
}

func flashLevel(effort string) string {
	switch effort {
	case "minimal", "low", "medium", "high":
		return effort
	default:
		return "medium"
	}
}

// Budget converts effort to a thinking-token budget. fallback applies when
// effort is absent or unrecognized.
func Budget(effort string, fallback int) int {
	switch effort {
	case "minimal", "low":
		return 8192
	case "medium":
		return 16384
	case "high":
		return 32768
	default:
		if fallback > 0 {
			return fallback
		}
		return DefaultThinkingBudget
	}
}

// NormalizeModelForAntigravity folds reasoning effort into a Gemini 3 Pro
// model name. A tier suffix already present in the client's model string
// wins over the effort parameter.
func NormalizeModelForAntigravity(model, effort string) string {
	if !strings.HasPrefix(strings.ToLower(model), "gemini-3-pro") || hasTierSuffix(model) {
		return model
	}
	return model + "-" + proSuffix(effort)
}

// ResolveModelForHeaderStyle converts a model name to the form the given
// header style expects. The gemini-cli style uses canonical preview names
// with no tier suffix.
func ResolveModelForHeaderStyle(model, style string) string {
	if style != "gemini-cli" {
		return model
	}
	m := stripTierSuffix(model)
	if strings.Contains(strings.ToLower(m), "gemini-3") && !strings.HasSuffix(strings.ToLower(m), "-preview") {
		m += "-preview"
	}
	return m
}

// ApplyThinking injects a thinkingConfig into cfg for thinking-capable
// models. The key shape differs per family. defaultBudget replaces the
// built-in default when positive.
func ApplyThinking(cfg *translate.GenerationConfig, model, effort string, defaultBudget int) {
	if !IsThinkingCapable(model) {
		return
	}
	switch {
	case IsGemini3Pro(model):
		cfg.ThinkingConfig = map[string]any{
			"thinkingLevel":   proSuffix(effort),
			"includeThoughts": true,
		}
	case IsGemini3Flash(model):
		cfg.ThinkingConfig = map[string]any{
			"thinkingLevel":   flashLevel(effort),
			"includeThoughts": true,
		}
	case IsClaudeFamily(model):
		budget := Budget(effort, defaultBudget)
		cfg.ThinkingConfig = map[string]any{
			"include_thoughts": true,
			"thinking_budget":  budget,
		}
		if cfg.MaxOutputTokens == nil || *cfg.MaxOutputTokens <= budget {
			max := claudeThinkingMaxTokens
			cfg.MaxOutputTokens = &max
		}
	default:
		cfg.ThinkingConfig = map[string]any{
			"thinkingBudget":  Budget(effort, defaultBudget),
			"includeThoughts": true,
		}
	}
}
