// Package llm writes prose recaps and eulogies for finished arenas through the
// Claude Haiku Messages API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultEndpoint is the Anthropic Messages API.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"

	apiVersion = "2023-06-01"
	model      = "claude-haiku-4-5-20251001"

	// Output token budgets per kind of prose.
	recapTokens  = 400
	eulogyTokens = 200

	defaultCallsPerMinute = 20
)

var (
	// ErrDisabled is returned when no API key is configured.
	ErrDisabled = errors.New("LLM client not configured")
	// ErrRateLimited is returned when the per-minute call budget is spent.
	ErrRateLimited = errors.New("LLM rate limit exceeded")
)

// APIError is a non-200 answer from the Messages endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Client writes arena prose. A nil *Client is valid and reports ErrDisabled.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	calls      *callBudget

	// Generated prose per arena ID, then per kind ("recap", "eulogy/<tribute>").
	memoMu sync.Mutex
	memo   map[string]map[string]string
}

// NewClient returns nil when apiKey is empty, which disables recaps.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:     apiKey,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		calls:      newCallBudget(defaultCallsPerMinute, time.Now),
		memo:       make(map[string]map[string]string),
	}
}

// WithEndpoint points the client at another Messages-compatible endpoint.
func (c *Client) WithEndpoint(url string) *Client {
	if c != nil {
		c.endpoint = url
	}
	return c
}

// WithCallsPerMinute replaces the default call budget.
func (c *Client) WithCallsPerMinute(n int) *Client {
	if c != nil {
		c.calls = newCallBudget(n, time.Now)
	}
	return c
}

// Enabled reports whether prose can be generated.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Prompt is a single-turn request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type response struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete spends one call from the budget and returns the model's text.
// Failed calls still count.
func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	if !c.calls.spend() {
		return "", fmt.Errorf("%w (%d calls/min)", ErrRateLimited, c.calls.perMin)
	}

	resp, err := c.post(ctx, request{
		Model:     model,
		MaxTokens: p.MaxTokens,
		System:    p.System,
		Messages:  []message{{Role: "user", Content: p.User}},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", errors.New("empty response")
	}

	slog.Debug("haiku call",
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp.Content[0].Text, nil
}

func (c *Client) post(ctx context.Context, req request) (*response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API call: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: httpResp.StatusCode, Body: string(raw)}
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// memoize returns the prose stored for arena and kind, generating it when
// missing or when refresh is set. Failures are not stored.
func (c *Client) memoize(arena, kind string, refresh bool, gen func() (string, error)) (text string, cached bool, err error) {
	if !c.Enabled() {
		return "", false, ErrDisabled
	}

	c.memoMu.Lock()
	text, ok := c.memo[arena][kind]
	c.memoMu.Unlock()
	if ok && !refresh {
		return text, true, nil
	}

	text, err = gen()
	if err != nil {
		return "", false, err
	}

	c.memoMu.Lock()
	if c.memo[arena] == nil {
		c.memo[arena] = make(map[string]string)
	}
	c.memo[arena][kind] = text
	c.memoMu.Unlock()
	return text, false, nil
}

// Forget drops everything generated for an arena.
func (c *Client) Forget(arena string) {
	if c == nil {
		return
	}
	c.memoMu.Lock()
	delete(c.memo, arena)
	c.memoMu.Unlock()
}

// callBudget allows perMin calls per rolling one-minute window.
type callBudget struct {
	mu      sync.Mutex
	perMin  int
	used    int
	resetAt time.Time
	now     func() time.Time
}

func newCallBudget(perMin int, now func() time.Time) *callBudget {
	return &callBudget{perMin: perMin, now: now}
}

func (b *callBudget) spend() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.After(b.resetAt) {
		b.used = 0
		b.resetAt = now.Add(time.Minute)
	}
	if b.used >= b.perMin {
		return false
	}
	b.used++
	return true
}
