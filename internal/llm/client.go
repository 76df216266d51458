// Package llm is the reasoning plane: clients that produce proposal text.
// Every response is untrusted and must be parsed and gated by the caller.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordon-ai/cordon/internal/tools"
)

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the structured result of one completion.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Client generates completions. Implementations: HTTPClient, DemoClient,
// and the replay wrappers.
type Client interface {
	Chat(ctx context.Context, system, user string) (Response, error)
	Model() string
}

// Config holds provider settings for the HTTP client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// ConfigFromEnv reads OPENAI_API_KEY, OPENAI_BASE_URL, and OPENAI_MODEL.
// Any OpenAI-compatible endpoint works by pointing OPENAI_BASE_URL at it.
func ConfigFromEnv() Config {
	cfg := Config{
		BaseURL:     os.Getenv("OPENAI_BASE_URL"),
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		Model:       os.Getenv("OPENAI_MODEL"),
		Temperature: 0.7,
		MaxTokens:   4096,
		Timeout:     30 * time.Second,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return cfg
}

// normalizeBaseURL strips a trailing slash and a trailing
// "/chat/completions" so the path is never doubled.
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

// NewHTTPClient builds a client from config.
func NewHTTPClient(cfg Config, log zerolog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

func (c *HTTPClient) Model() string { return c.cfg.Model }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends one system + user exchange and returns the assistant text.
func (c *HTTPClient) Chat(ctx context.Context, system, user string) (Response, error) {
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, tools.Errorf(tools.CodeLLMProviderError, "marshal request: %v", err)
	}

	url := c.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, tools.Errorf(tools.CodeLLMProviderError, "create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, tools.Errorf(tools.CodeLLMProviderError, "http request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, tools.Errorf(tools.CodeLLMProviderError, "read response: %v", err)
	}
	if code := statusCode(resp.StatusCode); code != "" {
		return Response{}, tools.Errorf(code, "HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return Response{}, tools.Errorf(tools.CodeLLMParseError, "unmarshal response: %v", err)
	}
	if cr.Error != nil {
		return Response{}, tools.Errorf(tools.CodeLLMProviderError, "API error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return Response{}, tools.Errorf(tools.CodeLLMEmptyResponse, "no choices in response")
	}

	content := StripThinkBlocks(cr.Choices[0].Message.Content)
	c.log.Debug().
		Str("model", c.cfg.Model).
		Int("prompt_tokens", cr.Usage.PromptTokens).
		Int("completion_tokens", cr.Usage.CompletionTokens).
		Dur("elapsed", time.Since(start)).
		Msg("llm completion")

	model := cr.Model
	if model == "" {
		model = c.cfg.Model
	}
	return Response{Content: content, Model: model, Usage: cr.Usage}, nil
}

// statusCode maps non-200 HTTP statuses onto error codes; "" means OK.
func statusCode(status int) string {
	switch {
	case status == http.StatusOK:
		return ""
	case status == http.StatusTooManyRequests:
		return tools.CodeLLMRateLimit
	case status == http.StatusRequestEntityTooLarge:
		return tools.CodeLLMContextTooLong
	default:
		return tools.CodeLLMProviderError
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// StripThinkBlocks removes <think>...</think> blocks emitted by reasoning
// models before structured output. An unclosed block is stripped to the
// end of the string.
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		rest := s[start:]
		end := strings.Index(rest, "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + rest[end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// ErrorCode extracts the structured code from a client error, defaulting
// to llm:provider_error.
func ErrorCode(err error) string {
	var se *tools.StructuredError
	if errors.As(err, &se) {
		return se.Code
	}
	return tools.CodeLLMProviderError
}
