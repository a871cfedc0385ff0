package llm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digger/internal/config"
	"digger/internal/prompt"
)

// fakeClient replays canned responses per model and records every call.
type fakeClient struct {
	responses map[string]string
	calls     []fakeCall
}

type fakeCall struct {
	model    string
	messages []Message
	opts     CallOptions
}

func (f *fakeClient) Provider() string { return "fake" }

func (f *fakeClient) Call(ctx context.Context, model string, messages []Message, opts CallOptions) (*CallResult, error) {
	f.calls = append(f.calls, fakeCall{model: model, messages: messages, opts: opts})
	content, ok := f.responses[model]
	if !ok {
		return &CallResult{Provider: "fake", Err: "model unavailable"}, nil
	}
	return &CallResult{Success: true, Content: content, TokensIn: 100, TokensOut: 50, Provider: "fake"}, nil
}

type noLayers struct{}

func (noLayers) ActionLayers(string) (map[string]string, error) { return nil, nil }
func (noLayers) SolutionLayer(string, string) (string, error)   { return "", nil }

type recordedAttempt struct {
	model   string
	success bool
	errType string
}

type fakeSink struct{ attempts []recordedAttempt }

func (f *fakeSink) RecordAttempt(logID, model, provider string, success bool, errorType string) {
	f.attempts = append(f.attempts, recordedAttempt{model: model, success: success, errType: errorType})
}

func writeRoutingTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "providers"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "routings"), 0755))

	files := map[string]string{
		"active.yml": "provider_file: providers/default.yml\nrouting_file: routings/routing-default.yml\n",
		"providers/default.yml": `providers:
  fake:
    rates:
      model-a: 0.001
`,
		"routings/routing-default.yml": `actions:
  default:
    model: model-a
    provider: fake
  extract.strict:
    model: model-a
    provider: fake
fallbacks:
  extract.strict:
    - model: model-b
      provider: fake
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func newTestRunner(t *testing.T, client *fakeClient) *Runner {
	t.Helper()
	router, err := config.NewModelRouter(writeRoutingTree(t))
	require.NoError(t, err)

	promptsDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(promptsDir, "extract_strict.md"),
		[]byte("Extract lineage. Respond with valid JSON only."), 0644))

	return NewRunner(router, map[string]Client{"fake": client}, prompt.NewComposer(noLayers{}, promptsDir))
}

func TestRunnerFallbackChain(t *testing.T) {
	client := &fakeClient{responses: map[string]string{
		"model-a": "I refuse to answer with JSON.",
		"model-b": `{"nodes": [], "edges": []}`,
	}}
	runner := newTestRunner(t, client)
	sink := &fakeSink{}
	runner.Audit = sink

	result := runner.Run(context.Background(), "extract.strict", "p1", Payload{
		FilePath: "a.sql", Content: "SELECT 1", LogID: "log-1",
	}, nil)

	require.True(t, result.Success)
	assert.Equal(t, "model-b", result.ModelUsed)
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, []string{"model-a", "model-b"}, result.ModelsAttempted)
	assert.Equal(t, 200, result.TokensIn)
	assert.Equal(t, 100, result.TokensOut)

	require.Len(t, sink.attempts, 2)
	assert.False(t, sink.attempts[0].success)
	assert.Equal(t, ErrTypeJSONParse, sink.attempts[0].errType)
	assert.True(t, sink.attempts[1].success)
}

func TestRunnerFallbackExhausted(t *testing.T) {
	client := &fakeClient{responses: map[string]string{
		"model-a": "not json",
		"model-b": "also not json",
	}}
	runner := newTestRunner(t, client)

	result := runner.Run(context.Background(), "extract.strict", "p1", Payload{FilePath: "a.sql", Content: "x"}, nil)
	require.False(t, result.Success)
	assert.Equal(t, ErrTypeFallbackExhausted, result.ErrorType)
	assert.Equal(t, []string{"model-a", "model-b"}, result.ModelsAttempted)
}

func TestRunnerCostUsesConfiguredRate(t *testing.T) {
	client := &fakeClient{responses: map[string]string{
		"model-a": `{"nodes": [], "edges": []}`,
	}}
	runner := newTestRunner(t, client)

	result := runner.Run(context.Background(), "extract.strict", "p1", Payload{FilePath: "a.sql", Content: "x"}, nil)
	require.True(t, result.Success)
	// 150 tokens at $0.001/1k.
	assert.InDelta(t, 0.00015, result.CostUSD, 1e-9)
}

func TestRunnerTruncatesLargeContent(t *testing.T) {
	client := &fakeClient{responses: map[string]string{
		"model-a": `{"nodes": [], "edges": []}`,
	}}
	runner := newTestRunner(t, client)

	big := strings.Repeat("x", maxPayloadChars+500)
	result := runner.Run(context.Background(), "extract.strict", "p1", Payload{FilePath: "big.sql", Content: big}, nil)
	require.True(t, result.Success)

	require.Len(t, client.calls, 1)
	user := client.calls[0].messages[1].Content.(string)
	var envelope map[string]string
	require.NoError(t, json.Unmarshal([]byte(user), &envelope))
	assert.True(t, strings.HasSuffix(envelope["content"], truncationSuffix))
	assert.Len(t, envelope["content"], maxPayloadChars+len(truncationSuffix))
}

func TestRunnerJSONModeForExtractActions(t *testing.T) {
	client := &fakeClient{responses: map[string]string{
		"model-a": `{"nodes": [], "edges": []}`,
	}}
	runner := newTestRunner(t, client)

	result := runner.Run(context.Background(), "extract.strict", "p1", Payload{FilePath: "a.sql", Content: "x"}, nil)
	require.True(t, result.Success)
	require.Len(t, client.calls, 1)
	assert.True(t, client.calls[0].opts.JSONMode)
}

func TestRunnerDeepDivePassthrough(t *testing.T) {
	client := &fakeClient{responses: map[string]string{
		// Malformed by extraction standards (no nodes), fine for deep dive.
		"model-a": `{"package": {"name": "P", "package_type": "SSIS"}, "column_lineage": []}`,
	}}
	runner := newTestRunner(t, client)

	result := runner.Run(context.Background(), "extract.deep_dive", "p1", Payload{FilePath: "p.dtsx", Content: "x"}, nil)
	require.True(t, result.Success)

	dd, err := ToDeepDive(result.Data)
	require.NoError(t, err)
	require.NotNil(t, dd.Package)
	assert.Equal(t, "P", dd.Package.Name)
}

func TestRunnerVisionPayload(t *testing.T) {
	client := &fakeClient{responses: map[string]string{
		"model-a": `{"nodes": [], "edges": []}`,
	}}
	runner := newTestRunner(t, client)

	result := runner.Run(context.Background(), "extract.strict", "p1", Payload{
		FilePath: "arch.png", Content: "aGVsbG8=", MIME: "image/png",
	}, nil)
	require.True(t, result.Success)

	parts, ok := client.calls[0].messages[1].Content.([]ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	require.NotNil(t, parts[1].ImageURL)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", parts[1].ImageURL.URL)
}
