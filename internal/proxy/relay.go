package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/talbotapp/talbot/internal/responder"
)

// RelayClient calls a remote response service that accepts RelayRequest and
// answers with RelayResponse. It implements responder.Remote.
type RelayClient struct {
	url          string
	systemPrompt string
	httpClient   *http.Client
}

var _ responder.Remote = (*RelayClient)(nil)

// NewRelayClient creates a client for the service at url. systemPrompt is
// sent with every request. Deadlines come from the caller's context.
func NewRelayClient(url, systemPrompt string) *RelayClient {
	return &RelayClient{
		url:          url,
		systemPrompt: systemPrompt,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
}

// Respond posts req to the service. Non-2xx statuses, undecodable bodies and
// empty responses are all reported as errors wrapping ErrRemote.
func (c *RelayClient) Respond(ctx context.Context, req responder.RemoteRequest) (string, error) {
	body, err := json.Marshal(RelayRequest{
		Message:      req.Message,
		SystemPrompt: c.systemPrompt,
		Profile:      req.Profile,
		History:      req.History,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshaling request: %v", ErrRemote, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %v", ErrRemote, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %d: %s", ErrRemote, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var rr RelayResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrRemote, err)
	}
	if strings.TrimSpace(rr.Response) == "" {
		return "", fmt.Errorf("%w: empty response", ErrRemote)
	}
	return rr.Response, nil
}
