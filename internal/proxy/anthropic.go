package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens = 1000
	apiVersion       = "2023-06-01"

	defaultTimeout = 60 * time.Second
	maxAttempts    = 3
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second

	// statusOverloaded is Anthropic's non-standard "overloaded" status.
	statusOverloaded = 529
)

// Client talks to the Anthropic Messages API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Messages API client for the public endpoint.
func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, "")
}

// NewClientWithBaseURL returns a client for a compatible endpoint at
// baseURL, or the public endpoint when baseURL is empty.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// APIError is a non-200 reply from the Messages API.
type APIError struct {
	Status     int
	Type       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Type != "" {
		return fmt.Sprintf("anthropic %s (HTTP %d): %s", e.Type, e.Status, msg)
	}
	return fmt.Sprintf("anthropic HTTP %d: %s", e.Status, msg)
}

// Temporary reports whether the request may succeed if sent again.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == statusOverloaded
}

// Complete sends req and returns the text of the first text block.
// Rate-limited and overloaded replies are retried with backoff, honoring
// Retry-After.
func (c *Client) Complete(ctx context.Context, req MessagesRequest) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding messages request: %w", err)
	}

	var apiErr *APIError
	for attempt := 0; ; attempt++ {
		text, err := c.post(ctx, body)
		if err == nil {
			return text, nil
		}
		if !errors.As(err, &apiErr) || !apiErr.Temporary() {
			return "", err
		}
		if attempt == maxAttempts-1 {
			return "", fmt.Errorf("rate limited after %d attempts: %w", maxAttempts, err)
		}

		wait := min(baseBackoff<<attempt, maxBackoff)
		if apiErr.RetryAfter > 0 {
			wait = min(apiErr.RetryAfter, maxBackoff)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("messages request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp)
	}

	var mr messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return "", fmt.Errorf("decoding messages response: %w", err)
	}
	for _, b := range mr.Content {
		if b.Type == "text" && b.Text != "" {
			return b.Text, nil
		}
	}
	return "", errors.New("messages response has no text content")
}

// readAPIError builds an APIError from the {"type":"error","error":{...}}
// envelope, falling back to the raw body.
func readAPIError(resp *http.Response) *APIError {
	e := &APIError{Status: resp.StatusCode}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var env struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		e.Type, e.Message = env.Error.Type, env.Error.Message
	} else {
		e.Message = strings.TrimSpace(string(raw))
	}
	return e
}
