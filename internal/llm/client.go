// Package llm contains the provider clients (Groq, OpenRouter, Gemini) and
// the action runner that executes named actions with prompt composition,
// JSON repair, and bounded fallback chains.
package llm

import (
	"context"
	"time"
)

// ImageURL is the vision payload of a multipart content part.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multipart message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Message is one chat turn. Content is either a string or []ContentPart
// for vision payloads.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// CallOptions tune one model call.
type CallOptions struct {
	Temperature float64
	MaxTokens   int
	JSONMode    bool
	Timeout     time.Duration
}

// CallResult is the uniform provider response.
type CallResult struct {
	Success   bool
	Content   string
	TokensIn  int
	TokensOut int
	Provider  string
	Err       string
}

// Client is one LLM provider.
type Client interface {
	// Call sends the messages to the named model. Transport-level failures
	// return an error; provider-reported failures set Success=false.
	Call(ctx context.Context, model string, messages []Message, opts CallOptions) (*CallResult, error)
	// Provider returns the provider name used in routing files.
	Provider() string
}
