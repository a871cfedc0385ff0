package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"digger/internal/config"
	"digger/internal/logging"
	"digger/internal/prompt"
	"digger/internal/types"
)

// maxPayloadChars bounds the file content embedded in a prompt.
const maxPayloadChars = 100000

const truncationSuffix = "… (truncated)"

// Error types surfaced in ActionResult.ErrorType.
const (
	ErrTypeLLM               = "llm_error"
	ErrTypeJSONParse         = "json_parse_error"
	ErrTypeValidation        = "validation_error"
	ErrTypeFallbackExhausted = "fallback_exhausted"
)

// Payload is the file being analyzed by an action.
type Payload struct {
	FilePath string
	Content  string
	MIME     string
	LogID    string
}

// ActionResult is the outcome of one action execution, including the
// model accounting the audit trail records.
type ActionResult struct {
	Success         bool
	Data            map[string]any
	ErrorType       string
	ErrorMessage    string
	ModelUsed       string
	Provider        string
	FallbackUsed    bool
	ModelsAttempted []string
	TokensIn        int
	TokensOut       int
	CostUSD         float64
	LatencyMS       int64
}

// AuditSink receives per-attempt accounting. The audit recorder implements
// it; a nil sink disables recording.
type AuditSink interface {
	RecordAttempt(logID, model, provider string, success bool, errorType string)
}

// Runner executes named actions against the routed model chain: compose
// prompt, call, extract JSON, repair, fall back on failure.
type Runner struct {
	Router   *config.ModelRouter
	Clients  map[string]Client
	Composer *prompt.Composer
	Audit    AuditSink
}

// NewRunner wires a runner over the given provider clients.
func NewRunner(router *config.ModelRouter, clients map[string]Client, composer *prompt.Composer) *Runner {
	return &Runner{Router: router, Clients: clients, Composer: composer}
}

// Run executes the action against its model chain. Every model in the chain
// is attempted in order until one yields a usable document; each failure is
// classified so the caller can tell transport trouble from bad JSON.
func (r *Runner) Run(ctx context.Context, action, projectID string, payload Payload, vars map[string]string) *ActionResult {
	log := logging.L(logging.CategoryLLM)
	start := time.Now()

	chainCfg, err := r.Router.Resolve(action)
	if err != nil {
		return &ActionResult{
			ErrorType:    ErrTypeValidation,
			ErrorMessage: err.Error(),
			LatencyMS:    time.Since(start).Milliseconds(),
		}
	}

	result := &ActionResult{}
	chain := chainCfg.Chain()
	for i, mc := range chain {
		result.ModelsAttempted = append(result.ModelsAttempted, mc.Model)

		client, ok := r.Clients[mc.Provider]
		if !ok {
			result.ErrorType = ErrTypeValidation
			result.ErrorMessage = fmt.Sprintf("no client for provider %q", mc.Provider)
			r.record(payload.LogID, mc, false, result.ErrorType)
			continue
		}

		system, err := r.Composer.Compose(action, projectID, mc.PromptFile, vars)
		if err != nil {
			result.ErrorType = ErrTypeValidation
			result.ErrorMessage = err.Error()
			r.record(payload.LogID, mc, false, result.ErrorType)
			continue
		}

		messages := []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: userContent(payload)},
		}
		opts := CallOptions{
			Temperature: mc.Temperature,
			MaxTokens:   mc.MaxTokens,
			JSONMode:    jsonMode(system, mc.PromptFile, action),
			Timeout:     time.Duration(mc.TimeoutMS) * time.Millisecond,
		}

		call, err := client.Call(ctx, mc.Model, messages, opts)
		if err != nil {
			result.ErrorType = ErrTypeLLM
			result.ErrorMessage = err.Error()
			log.Warnw("model call failed", "action", action, "model", mc.Model, "error", err)
			r.record(payload.LogID, mc, false, result.ErrorType)
			continue
		}
		result.TokensIn += call.TokensIn
		result.TokensOut += call.TokensOut
		result.CostUSD += r.Router.Rate(mc.Model) * float64(call.TokensIn+call.TokensOut) / 1000
		if !call.Success {
			result.ErrorType = ErrTypeLLM
			result.ErrorMessage = call.Err
			log.Warnw("model reported failure", "action", action, "model", mc.Model, "error", call.Err)
			r.record(payload.LogID, mc, false, result.ErrorType)
			continue
		}

		doc, errType, err := r.parse(action, call.Content)
		if err != nil {
			result.ErrorType = errType
			result.ErrorMessage = err.Error()
			log.Warnw("response unusable", "action", action, "model", mc.Model, "error", err)
			r.record(payload.LogID, mc, false, errType)
			continue
		}

		result.Success = true
		result.Data = doc
		result.ErrorType = ""
		result.ErrorMessage = ""
		result.ModelUsed = mc.Model
		result.Provider = call.Provider
		result.FallbackUsed = i > 0
		result.LatencyMS = time.Since(start).Milliseconds()
		r.record(payload.LogID, mc, true, "")
		return result
	}

	result.ErrorType = ErrTypeFallbackExhausted
	result.ErrorMessage = fmt.Sprintf("all %d models failed, last error: %s", len(chain), result.ErrorMessage)
	result.LatencyMS = time.Since(start).Milliseconds()
	log.Errorw("fallback chain exhausted", "action", action, "attempted", result.ModelsAttempted)
	return result
}

// parse turns the raw completion into a document. Extraction actions get
// the full repair treatment; deep-dive and other actions pass through as
// whatever object the model returned.
func (r *Runner) parse(action, content string) (map[string]any, string, error) {
	fragment, err := ExtractJSON(content)
	if err != nil {
		return nil, ErrTypeJSONParse, fmt.Errorf("%w: %v", types.ErrJSONParse, err)
	}
	var parsed any
	if err := json.Unmarshal([]byte(fragment), &parsed); err != nil {
		return nil, ErrTypeJSONParse, fmt.Errorf("%w: %v", types.ErrJSONParse, err)
	}

	if strings.HasPrefix(action, "extract") && !strings.Contains(action, "deep_dive") {
		doc, dropped, err := RepairExtraction(parsed)
		if err != nil {
			return nil, ErrTypeValidation, fmt.Errorf("%w: %v", types.ErrValidation, err)
		}
		if dropped > 0 {
			logging.L(logging.CategoryLLM).Warnw("dropped malformed edges", "action", action, "count", dropped)
		}
		return doc, "", nil
	}

	doc, ok := parsed.(map[string]any)
	if !ok {
		return nil, ErrTypeValidation, fmt.Errorf("%w: response is not a JSON object", types.ErrValidation)
	}
	return doc, "", nil
}

// userContent builds the user message: a JSON envelope for text files, a
// multipart text+image message for vision payloads.
func userContent(p Payload) any {
	if strings.HasPrefix(p.MIME, "image/") {
		return []ContentPart{
			{Type: "text", Text: fmt.Sprintf("Analyze this diagram from %s.", p.FilePath)},
			{Type: "image_url", ImageURL: &ImageURL{URL: "data:" + p.MIME + ";base64," + p.Content}},
		}
	}
	content := p.Content
	if len(content) > maxPayloadChars {
		content = content[:maxPayloadChars] + truncationSuffix
	}
	envelope, _ := json.Marshal(map[string]string{
		"file_path": p.FilePath,
		"content":   content,
	})
	return string(envelope)
}

// jsonMode decides whether to request strict JSON output. Extraction-style
// prompts want it; free-form reasoning does not.
func jsonMode(system, promptFile, action string) bool {
	name := strings.ToLower(promptFile + " " + action)
	if strings.Contains(name, "extract") || strings.Contains(name, "strict") {
		return true
	}
	return strings.Contains(strings.ToLower(system), "respond with valid json")
}

func (r *Runner) record(logID string, mc config.ModelConfig, success bool, errorType string) {
	if r.Audit == nil || logID == "" {
		return
	}
	r.Audit.RecordAttempt(logID, mc.Model, mc.Provider, success, errorType)
}

// ToExtractionResult converts a repaired document into the typed extraction
// result via a JSON round trip.
func ToExtractionResult(doc map[string]any) (*types.ExtractionResult, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var res types.ExtractionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	return &res, nil
}

// ToDeepDive converts a deep-dive document into its typed form.
func ToDeepDive(doc map[string]any) (*types.DeepDiveResult, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var res types.DeepDiveResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	return &res, nil
}
