package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/talbotapp/talbot/internal/conversation"
	"github.com/talbotapp/talbot/internal/profile"
	"github.com/talbotapp/talbot/internal/responder"
)

func TestRelayClient_Respond(t *testing.T) {
	var got RelayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(RelayResponse{Response: "What's that like for you?"})
	}))
	defer srv.Close()

	c := NewRelayClient(srv.URL, "You are Talbot.")
	text, err := c.Respond(context.Background(), responder.RemoteRequest{
		Message: "User Profile Context:\n- Call me: Sam\n\nUser message: hi",
		Profile: &profile.Profile{PreferredName: "Sam"},
		History: []conversation.Message{{Sender: conversation.SenderUser, Content: "earlier"}},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if text != "What's that like for you?" {
		t.Errorf("text = %q", text)
	}
	if got.SystemPrompt != "You are Talbot." || got.Profile == nil || got.Profile.PreferredName != "Sam" {
		t.Errorf("request body = %+v", got)
	}
	if len(got.History) != 1 || got.History[0].Content != "earlier" {
		t.Errorf("history = %+v", got.History)
	}
}

func TestRelayClient_NullProfile(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		fmt.Fprint(w, `{"response":"ok"}`)
	}))
	defer srv.Close()

	if _, err := NewRelayClient(srv.URL, "").Respond(context.Background(), responder.RemoteRequest{Message: "hi"}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if string(raw["profile"]) != "null" {
		t.Errorf("profile = %s, want null", raw["profile"])
	}
}

func TestRelayClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-2xx", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"response":`)
		}},
		{"empty response", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"response":""}`)
		}},
		{"wrong shape", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"reply":"hello"}`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewRelayClient(srv.URL, "").Respond(context.Background(), responder.RemoteRequest{Message: "hi"})
			if !errors.Is(err, ErrRemote) {
				t.Errorf("err = %v, want ErrRemote", err)
			}
		})
	}
}

func TestRelayClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewRelayClient(url, "").Respond(context.Background(), responder.RemoteRequest{Message: "hi"})
	if !errors.Is(err, ErrRemote) {
		t.Errorf("err = %v, want ErrRemote", err)
	}
}

func TestOllamaClient_Complete(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"G'day."}}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "")
	text, err := c.Complete(context.Background(), MessagesRequest{
		System:    "be kind",
		MaxTokens: 200,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "G'day." {
		t.Errorf("text = %q", text)
	}
	if got.Model != DefaultOllamaModel || got.Stream || got.Options.NumPredict != 200 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hi" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestOllamaClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3.2:latest"},{"name":"mistral:7b"}]}`)
	}))
	defer srv.Close()

	if err := NewOllamaClient(srv.URL, "").Ping(context.Background()); err != nil {
		t.Errorf("Ping default model: %v", err)
	}
	if err := NewOllamaClient(srv.URL, "mistral:7b").Ping(context.Background()); err != nil {
		t.Errorf("Ping tagged model: %v", err)
	}
	if err := NewOllamaClient(srv.URL, "phi3").Ping(context.Background()); err == nil || !strings.Contains(err.Error(), "not pulled") {
		t.Errorf("Ping missing model = %v", err)
	}
	srv.Close()
	if err := NewOllamaClient(srv.URL, "").Ping(context.Background()); err == nil {
		t.Error("Ping succeeded after close")
	}
}
