package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"digger/internal/logging"
)

// Backoff schedule for 429 responses.
var rateLimitBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// openAIClient is the shared transport for OpenAI-compatible chat APIs.
type openAIClient struct {
	provider    string
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	headers     map[string]string
	mu          sync.Mutex
	lastRequest time.Time
}

func (c *openAIClient) Provider() string { return c.provider }

// Call posts a chat completion, retrying up to three times on 429 with
// 5s/10s/20s backoff.
func (c *openAIClient) Call(ctx context.Context, model string, messages []Message, opts CallOptions) (*CallResult, error) {
	log := logging.L(logging.CategoryLLM)

	if c.apiKey == "" {
		return nil, fmt.Errorf("%s API key not configured", c.provider)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// Rate limiting between consecutive requests.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := openAIRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.JSONMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= len(rateLimitBackoff); attempt++ {
		if attempt > 0 {
			wait := rateLimitBackoff[attempt-1]
			log.Warnw("rate limited, backing off", "provider", c.provider, "wait", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return &CallResult{
				Provider: c.provider,
				Err:      fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			}, nil
		}

		var apiResp openAIResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if apiResp.Error != nil {
			return &CallResult{Provider: c.provider, Err: "API error: " + apiResp.Error.Message}, nil
		}
		if len(apiResp.Choices) == 0 {
			return &CallResult{Provider: c.provider, Err: "no completion returned"}, nil
		}

		log.Debugw("completion received",
			"provider", c.provider, "model", model,
			"latency", time.Since(start), "tokens_out", apiResp.Usage.CompletionTokens)
		return &CallResult{
			Success:   true,
			Content:   strings.TrimSpace(apiResp.Choices[0].Message.Content),
			TokensIn:  apiResp.Usage.PromptTokens,
			TokensOut: apiResp.Usage.CompletionTokens,
			Provider:  c.provider,
		}, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// NewGroqClient returns the Groq chat client.
func NewGroqClient(apiKey string) Client {
	return &openAIClient{
		provider:   "groq",
		apiKey:     apiKey,
		baseURL:    "https://api.groq.com/openai/v1",
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// NewOpenRouterClient returns the OpenRouter chat client.
func NewOpenRouterClient(apiKey string) Client {
	return &openAIClient{
		provider:   "openrouter",
		apiKey:     apiKey,
		baseURL:    "https://openrouter.ai/api/v1",
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		headers: map[string]string{
			"HTTP-Referer": "https://digger.local",
			"X-Title":      "digger",
		},
	}
}
