package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoutingTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "providers"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "routings"), 0755))

	files := map[string]string{
		"active.yml": "provider_file: providers/default.yml\nrouting_file: routings/routing-default.yml\n",
		"providers/default.yml": `providers:
  groq:
    base_url: https://api.groq.com/openai/v1
    api_key_env: GROQ_API_KEY
    rates:
      llama-3.3-70b: 0.0006
`,
		"routings/routing-default.yml": `actions:
  default:
    model: llama-3.3-70b
    provider: groq
  extract.strict:
    model: big-model
    provider: groq
    temperature: 0.3
    max_tokens: 8000
fallbacks:
  extract.strict:
    - model: small-model
      provider: groq
`,
		"routings/routing-economy-groq.yml": `actions:
  default:
    model: cheap-model
    provider: groq
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestRouterResolveAndDefaults(t *testing.T) {
	t.Setenv(EconomyModeEnv, "")
	r, err := NewModelRouter(writeRoutingTree(t))
	require.NoError(t, err)

	cfg, err := r.Resolve("extract.strict")
	require.NoError(t, err)
	chain := cfg.Chain()
	require.Len(t, chain, 2)
	assert.Equal(t, "big-model", chain[0].Model)
	assert.Equal(t, 0.3, chain[0].Temperature)
	assert.Equal(t, 8000, chain[0].MaxTokens)
	assert.Equal(t, 60000, chain[0].TimeoutMS, "unset timeout takes the default")
	assert.Equal(t, "small-model", chain[1].Model)
	assert.Equal(t, 0.1, chain[1].Temperature, "fallback inherits defaults too")

	// Unknown actions fall back to the default action.
	cfg, err = r.Resolve("never.configured")
	require.NoError(t, err)
	assert.Equal(t, "llama-3.3-70b", cfg.Primary.Model)
}

func TestRouterRates(t *testing.T) {
	t.Setenv(EconomyModeEnv, "")
	r, err := NewModelRouter(writeRoutingTree(t))
	require.NoError(t, err)

	assert.Equal(t, 0.0006, r.Rate("llama-3.3-70b"))
	assert.Equal(t, 0.002, r.Rate("unknown-model"), "unknown models use the default rate")
}

func TestRouterEconomyModeOverride(t *testing.T) {
	t.Setenv(EconomyModeEnv, "true")
	r, err := NewModelRouter(writeRoutingTree(t))
	require.NoError(t, err)

	cfg, err := r.Resolve("default")
	require.NoError(t, err)
	assert.Equal(t, "cheap-model", cfg.Primary.Model)
}

func TestRouterActivate(t *testing.T) {
	t.Setenv(EconomyModeEnv, "")
	dir := writeRoutingTree(t)
	r, err := NewModelRouter(dir)
	require.NoError(t, err)

	require.NoError(t, r.Activate("default.yml", "routing-economy-groq.yml"))
	cfg, err := r.Resolve("default")
	require.NoError(t, err)
	assert.Equal(t, "cheap-model", cfg.Primary.Model)

	// active.yml was rewritten on disk.
	data, err := os.ReadFile(filepath.Join(dir, "active.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "routing-economy-groq.yml")
}

func TestRouterRejectsTraversal(t *testing.T) {
	t.Setenv(EconomyModeEnv, "")
	dir := writeRoutingTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "active.yml"),
		[]byte("provider_file: ../../etc/passwd\nrouting_file: routings/routing-default.yml\n"), 0644))

	_, err := NewModelRouter(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes config dir")
}

func TestRouterListFiles(t *testing.T) {
	t.Setenv(EconomyModeEnv, "")
	r, err := NewModelRouter(writeRoutingTree(t))
	require.NoError(t, err)

	provs, err := r.ListProviders()
	require.NoError(t, err)
	assert.Equal(t, []string{"default.yml"}, provs)

	routs, err := r.ListRoutings()
	require.NoError(t, err)
	assert.Equal(t, []string{"routing-default.yml", "routing-economy-groq.yml"}, routs)
}
