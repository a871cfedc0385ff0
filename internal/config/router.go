package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"digger/internal/logging"
)

// EconomyModeEnv forces the economy Groq routing when set to "true".
const EconomyModeEnv = "LLM_ECONOMY_MODE"

const economyRoutingFile = "routing-economy-groq.yml"

// ModelConfig selects one model for one attempt of an action.
type ModelConfig struct {
	Model       string  `yaml:"model"`
	Provider    string  `yaml:"provider"`
	PromptFile  string  `yaml:"prompt_file"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

// ActionConfig is the primary model plus its ordered fallbacks.
type ActionConfig struct {
	Primary   ModelConfig
	Fallbacks []ModelConfig
}

// Chain returns primary followed by fallbacks.
func (a ActionConfig) Chain() []ModelConfig {
	chain := make([]ModelConfig, 0, 1+len(a.Fallbacks))
	chain = append(chain, a.Primary)
	chain = append(chain, a.Fallbacks...)
	return chain
}

// ProviderConfig describes one LLM provider endpoint.
type ProviderConfig struct {
	BaseURL   string             `yaml:"base_url"`
	APIKeyEnv string             `yaml:"api_key_env"`
	Rates     map[string]float64 `yaml:"rates"` // USD per 1k tokens, by model
}

type activeFile struct {
	ProviderFile string `yaml:"provider_file"`
	RoutingFile  string `yaml:"routing_file"`
}

type providersFile struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type routingFile struct {
	Actions   map[string]ModelConfig   `yaml:"actions"`
	Fallbacks map[string][]ModelConfig `yaml:"fallbacks"`
}

// ModelRouter resolves action names to model chains from the on-disk
// routing tree. Reload-safe; Watch hot-reloads on active.yml changes.
type ModelRouter struct {
	mu        sync.RWMutex
	dir       string
	active    activeFile
	providers map[string]ProviderConfig
	actions   map[string]ActionConfig
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

// NewModelRouter loads the routing tree rooted at dir.
func NewModelRouter(dir string) (*ModelRouter, error) {
	r := &ModelRouter{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads active.yml and the files it points at.
func (r *ModelRouter) Reload() error {
	data, err := os.ReadFile(filepath.Join(r.dir, "active.yml"))
	if err != nil {
		return fmt.Errorf("failed to read active.yml: %w", err)
	}
	var active activeFile
	if err := yaml.Unmarshal(data, &active); err != nil {
		return fmt.Errorf("failed to parse active.yml: %w", err)
	}

	if strings.EqualFold(os.Getenv(EconomyModeEnv), "true") {
		active.RoutingFile = filepath.Join("routings", economyRoutingFile)
		logging.L(logging.CategoryRouting).Infow("economy mode forced", "routing", active.RoutingFile)
	}

	provPath, err := r.securePath(active.ProviderFile)
	if err != nil {
		return err
	}
	routPath, err := r.securePath(active.RoutingFile)
	if err != nil {
		return err
	}

	var provs providersFile
	data, err = os.ReadFile(provPath)
	if err != nil {
		return fmt.Errorf("failed to read provider file: %w", err)
	}
	if err := yaml.Unmarshal(data, &provs); err != nil {
		return fmt.Errorf("failed to parse provider file: %w", err)
	}

	var routing routingFile
	data, err = os.ReadFile(routPath)
	if err != nil {
		return fmt.Errorf("failed to read routing file: %w", err)
	}
	if err := yaml.Unmarshal(data, &routing); err != nil {
		return fmt.Errorf("failed to parse routing file: %w", err)
	}

	actions := make(map[string]ActionConfig, len(routing.Actions))
	for name, primary := range routing.Actions {
		cfg := ActionConfig{Primary: applyDefaults(primary)}
		for _, fb := range routing.Fallbacks[name] {
			cfg.Fallbacks = append(cfg.Fallbacks, applyDefaults(fb))
		}
		actions[name] = cfg
	}

	r.mu.Lock()
	r.active = active
	r.providers = provs.Providers
	r.actions = actions
	r.mu.Unlock()

	logging.L(logging.CategoryRouting).Infow("routing loaded",
		"providers", len(provs.Providers), "actions", len(actions))
	return nil
}

func applyDefaults(m ModelConfig) ModelConfig {
	if m.Temperature == 0 {
		m.Temperature = 0.1
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = 4096
	}
	if m.TimeoutMS == 0 {
		m.TimeoutMS = 60000
	}
	return m
}

// Resolve returns the action configuration for name. Unknown actions fall
// back to the "default" action if one is configured.
func (r *ModelRouter) Resolve(name string) (ActionConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.actions[name]; ok {
		return cfg, nil
	}
	if cfg, ok := r.actions["default"]; ok {
		return cfg, nil
	}
	return ActionConfig{}, fmt.Errorf("no routing for action %q", name)
}

// Provider returns the provider endpoint config by name.
func (r *ModelRouter) Provider(name string) (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Rate returns the USD-per-1k-token rate for a model, 0.002 by default.
func (r *ModelRouter) Rate(model string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if rate, ok := p.Rates[model]; ok {
			return rate
		}
	}
	return 0.002
}

// Watch hot-reloads routing whenever active.yml changes. Stop with Close.
func (r *ModelRouter) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}
	r.watcher = watcher
	r.done = make(chan struct{})

	go func() {
		log := logging.L(logging.CategoryRouting)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != "active.yml" {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.Reload(); err != nil {
					log.Warnw("routing reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnw("watcher error", "error", err)
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher if running.
func (r *ModelRouter) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	return r.watcher.Close()
}

// ListProviders returns the provider file names available on disk.
func (r *ModelRouter) ListProviders() ([]string, error) {
	return r.listYAML("providers")
}

// ListRoutings returns the routing file names available on disk.
func (r *ModelRouter) ListRoutings() ([]string, error) {
	return r.listYAML("routings")
}

func (r *ModelRouter) listYAML(sub string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, sub))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", sub, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yml" || ext == ".yaml" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Activate rewrites active.yml to point at the given provider and routing
// files and reloads.
func (r *ModelRouter) Activate(providerFile, routingFile string) error {
	pf := filepath.Join("providers", filepath.Base(providerFile))
	rf := filepath.Join("routings", filepath.Base(routingFile))
	if _, err := r.securePath(pf); err != nil {
		return err
	}
	if _, err := r.securePath(rf); err != nil {
		return err
	}
	data, err := yaml.Marshal(activeFile{ProviderFile: pf, RoutingFile: rf})
	if err != nil {
		return fmt.Errorf("failed to marshal active.yml: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, "active.yml"), data, 0644); err != nil {
		return fmt.Errorf("failed to write active.yml: %w", err)
	}
	return r.Reload()
}

// securePath resolves rel under the config dir, rejecting traversal.
func (r *ModelRouter) securePath(rel string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(r.dir, rel))
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(r.dir)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes config dir", rel)
	}
	return abs, nil
}
