// Package config loads the pipeline configuration file and the model
// routing tree (active.yml pointing at providers/*.yml and routings/*.yml).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root daemon configuration.
type Config struct {
	// DBPath is the sqlite database file holding all pipeline state.
	DBPath string `yaml:"db_path"`

	// StorageRoot is where fetched artifacts are localized.
	StorageRoot string `yaml:"storage_root"`

	// BucketRoot mirrors the "source-code" object bucket on disk.
	BucketRoot string `yaml:"bucket_root"`

	// ArtifactsRoot holds per-solution sandboxes (reports, generated files).
	ArtifactsRoot string `yaml:"artifacts_root"`

	// ConfigDir holds active.yml, providers/ and routings/.
	ConfigDir string `yaml:"config_dir"`

	// PromptsDir holds filesystem fallback prompt files.
	PromptsDir string `yaml:"prompts_dir"`

	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`

	Providers ProviderKeys `yaml:"providers"`
}

// ProviderKeys carries API keys. Empty values fall back to the
// conventional environment variables at client construction time.
type ProviderKeys struct {
	GroqAPIKey       string `yaml:"groq_api_key"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key"`
	GeminiAPIKey     string `yaml:"gemini_api_key"`
}

// Default returns a configuration rooted under dir.
func Default(dir string) *Config {
	return &Config{
		DBPath:        filepath.Join(dir, "digger.db"),
		StorageRoot:   filepath.Join(dir, "storage"),
		BucketRoot:    filepath.Join(dir, "bucket"),
		ArtifactsRoot: filepath.Join(dir, "artifacts"),
		ConfigDir:     "config",
		PromptsDir:    "prompts",
		Workers:       1,
		PollInterval:  5 * time.Second,
	}
}

// Load reads a YAML config file, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default(filepath.Dir(path))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return cfg, nil
}

func resolveKey(configured, envVar string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(envVar)
}

// GroqKey returns the Groq API key.
func (p ProviderKeys) GroqKey() string { return resolveKey(p.GroqAPIKey, "GROQ_API_KEY") }

// OpenRouterKey returns the OpenRouter API key.
func (p ProviderKeys) OpenRouterKey() string {
	return resolveKey(p.OpenRouterAPIKey, "OPENROUTER_API_KEY")
}

// GeminiKey returns the Gemini API key.
func (p ProviderKeys) GeminiKey() string { return resolveKey(p.GeminiAPIKey, "GEMINI_API_KEY") }
