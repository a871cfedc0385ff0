package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient adapts the Google GenAI SDK to the Client interface.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Provider returns "gemini".
func (c *GeminiClient) Provider() string { return "gemini" }

// Call maps chat messages onto one GenAI generation request. The system
// message becomes the system instruction; data-URL image parts become
// inline byte parts.
func (c *GeminiClient) Call(ctx context.Context, model string, messages []Message, opts CallOptions) (*CallResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}

	var contents []*genai.Content
	for _, msg := range messages {
		parts, err := geminiParts(msg.Content)
		if err != nil {
			return nil, err
		}
		if msg.Role == "system" {
			cfg.SystemInstruction = genai.NewContentFromParts(parts, genai.RoleUser)
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	result := &CallResult{
		Success:  true,
		Content:  strings.TrimSpace(resp.Text()),
		Provider: "gemini",
	}
	if resp.UsageMetadata != nil {
		result.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		result.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if result.Content == "" {
		result.Success = false
		result.Err = "no completion returned"
	}
	return result, nil
}

func geminiParts(content any) ([]*genai.Part, error) {
	switch v := content.(type) {
	case string:
		return []*genai.Part{genai.NewPartFromText(v)}, nil
	case []ContentPart:
		var parts []*genai.Part
		for _, p := range v {
			switch p.Type {
			case "text":
				parts = append(parts, genai.NewPartFromText(p.Text))
			case "image_url":
				if p.ImageURL == nil {
					continue
				}
				mime, data, err := decodeDataURL(p.ImageURL.URL)
				if err != nil {
					return nil, err
				}
				parts = append(parts, genai.NewPartFromBytes(data, mime))
			}
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("unsupported message content type %T", content)
	}
}

// decodeDataURL splits "data:{mime};base64,{payload}".
func decodeDataURL(url string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	mime, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, fmt.Errorf("data URL is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	return mime, data, nil
}
