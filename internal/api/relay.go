package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/talbotapp/talbot/internal/composer"
	"github.com/talbotapp/talbot/internal/proxy"
	"github.com/talbotapp/talbot/internal/responder"
)

const defaultUpstreamTimeout = 30 * time.Second

// clinicalFallbacks answer relay requests when the upstream model is
// unavailable. The client still gets a 200.
var clinicalFallbacks = []string{
	"I'm experiencing some technical difficulties right now, but I want you to know that your feelings and experiences are completely valid. What's most important to you to talk through right now?",
	"I'm having trouble with my connection, but I'm still here to support you. Sometimes just talking through what's on your mind can be helpful, even when technology isn't cooperating perfectly.",
	"Technical issues aside, you took an important step by reaching out. That shows real strength. How are you feeling in this moment, and what kind of support would be most helpful?",
}

// RelayDeps holds dependencies for the relay handler.
type RelayDeps struct {
	Upstream   proxy.Upstream     // optional; nil answers every request with a fallback
	Composer   *composer.Composer // optional; defaults to composer.New(0, "", 0)
	Limiter    *rate.Limiter      // optional; nil disables rate limiting
	Rand       responder.Rand
	CORSOrigin string
	Timeout    time.Duration // upstream call bound; defaults to 30s
}

// NewRelayHandler returns the remote response service consumed by the
// Selector's remote path: POST {message, systemPrompt, profile, history}
// answered with {response}.
func NewRelayHandler(deps RelayDeps) http.Handler {
	if deps.Composer == nil {
		deps.Composer = composer.New(0, "", 0)
	}
	if deps.Rand == nil {
		deps.Rand = responder.NewRand(time.Now().UnixNano())
	}
	if deps.Timeout <= 0 {
		deps.Timeout = defaultUpstreamTimeout
	}
	return CORS(deps.CORSOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpError(w, http.StatusMethodNotAllowed, "invalid_request_error", "Method not allowed")
			return
		}
		if deps.Limiter != nil && !deps.Limiter.Allow() {
			httpError(w, http.StatusTooManyRequests, "rate_limit_error", "Too many requests")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req proxy.RelayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Invalid JSON")
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Message is required")
			return
		}

		writeJSON(w, http.StatusOK, proxy.RelayResponse{Response: relayReply(r.Context(), deps, req)})
	}))
}

func relayReply(ctx context.Context, deps RelayDeps, req proxy.RelayRequest) string {
	if deps.Upstream == nil {
		return clinicalFallbacks[deps.Rand.Intn(len(clinicalFallbacks))]
	}

	ctx, cancel := context.WithTimeout(ctx, deps.Timeout)
	defer cancel()

	text, err := deps.Upstream.Complete(ctx, deps.Composer.Compose(req.SystemPrompt, req.Message, req.Profile, req.History))
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	slog.Warn("upstream unavailable, sending fallback", "error", err)
	return clinicalFallbacks[deps.Rand.Intn(len(clinicalFallbacks))]
}

// CORS answers preflight requests and sets the allow-origin header on every
// response. An empty origin allows any.
func CORS(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
