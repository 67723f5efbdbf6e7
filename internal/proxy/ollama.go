package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2"
)

// OllamaClient completes prompts with a local Ollama instance, for running
// without a cloud API key.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient creates a client for the Ollama server at baseURL. Empty
// arguments select the defaults.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Ping checks that the Ollama server answers and has the client's model
// pulled.
func (c *OllamaClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama tags: HTTP %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decoding ollama tags: %w", err)
	}
	for _, m := range tags.Models {
		// Tags are listed as name:tag; a bare model name means :latest.
		if m.Name == c.model || strings.TrimSuffix(m.Name, ":latest") == c.model {
			return nil
		}
	}
	return fmt.Errorf("ollama model %q is not pulled", c.model)
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  struct {
		NumPredict int `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
}

// Complete sends req to POST /api/chat. The system prompt becomes a leading
// system message; req.Model overrides the client's model when set.
func (c *OllamaClient) Complete(ctx context.Context, req MessagesRequest) (string, error) {
	cr := ollamaChatRequest{Model: c.model}
	if req.Model != "" {
		cr.Model = req.Model
	}
	cr.Options.NumPredict = req.MaxTokens
	if req.System != "" {
		cr.Messages = append(cr.Messages, Message{Role: "system", Content: req.System})
	}
	cr.Messages = append(cr.Messages, req.Messages...)

	body, err := json.Marshal(cr)
	if err != nil {
		return "", err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	switch {
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("ollama chat: HTTP %d", resp.StatusCode)
	case json.NewDecoder(resp.Body).Decode(&out) != nil:
		return "", errors.New("ollama chat: malformed response")
	case out.Message.Content == "":
		return "", errors.New("ollama chat: empty response")
	}
	return out.Message.Content, nil
}
