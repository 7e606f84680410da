// Package catalog serves the model list for GET /v1/models. The built-in
// catalog mirrors what the Cloud Code backend actually serves; deployments
// can replace it with a YAML file.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Model is one entry in the OpenAI-style model list.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type fileConfig struct {
	Models []modelConfig `yaml:"models"`
}

type modelConfig struct {
	ID      string `yaml:"id"`
	OwnedBy string `yaml:"owned_by"`
	Created int64  `yaml:"created"`
}

const defaultCreated = 1756080000 // 2025-08-25

var (
	stateMu     sync.RWMutex
	initialized bool
	modelList   []Model
)

// InitFromEnvAndConfig loads the model catalog, preferring a YAML file over
// the built-in defaults. A load error falls back to defaults and is returned
// for logging.
func InitFromEnvAndConfig() error {
	models, err := loadModels()

	stateMu.Lock()
	defer stateMu.Unlock()
	modelList = models
	initialized = true
	return err
}

func ensureInitialized() {
	stateMu.RLock()
	ok := initialized
	stateMu.RUnlock()
	if ok {
		return
	}
	_ = InitFromEnvAndConfig()
}

// ResetForTest resets in-memory state so tests can force reload.
func ResetForTest() {
	stateMu.Lock()
	defer stateMu.Unlock()
	initialized = false
	modelList = nil
}

// Models returns the catalog sorted by id.
func Models() []Model {
	ensureInitialized()

	stateMu.RLock()
	defer stateMu.RUnlock()
	return append([]Model(nil), modelList...)
}

// Has reports whether the exact model id is in the catalog. Unknown ids are
// still forwarded upstream; this only drives the list endpoint and logging.
func Has(id string) bool {
	for _, m := range Models() {
		if m.ID == id {
			return true
		}
	}
	return false
}

func loadModels() ([]Model, error) {
	configs, loadErr := loadConfigModels()
	if len(configs) == 0 {
		configs = defaultModels()
	}

	models := make([]Model, 0, len(configs))
	seen := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		id := strings.TrimSpace(cfg.ID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		created := cfg.Created
		if created == 0 {
			created = defaultCreated
		}
		ownedBy := strings.TrimSpace(cfg.OwnedBy)
		if ownedBy == "" {
			ownedBy = ownerForModel(id)
		}
		models = append(models, Model{
			ID:      id,
			Object:  "model",
			Created: created,
			OwnedBy: ownedBy,
		})
	}

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, loadErr
}

func ownerForModel(id string) string {
	m := strings.ToLower(id)
	if strings.Contains(m, "claude") || strings.Contains(m, "opus") {
		return "anthropic"
	}
	return "google"
}

func loadConfigModels() ([]modelConfig, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file %q: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse models file %q: %w", path, err)
	}
	return cfg.Models, nil
}

func resolveConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("AGPROXY_MODELS_FILE")); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/models.yaml",
		"/etc/agproxy/models.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "agproxy", "models.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func defaultModels() []modelConfig {
	return []modelConfig{
		{ID: "gemini-3-pro", OwnedBy: "google"},
		{ID: "gemini-3-flash", OwnedBy: "google"},
		{ID: "gemini-2.5-flash", OwnedBy: "google"},
		{ID: "gemini-2.5-flash-thinking", OwnedBy: "google"},
		{ID: "claude-sonnet-4-5", OwnedBy: "anthropic"},
		{ID: "claude-opus-4-6", OwnedBy: "anthropic"},
	}
}
