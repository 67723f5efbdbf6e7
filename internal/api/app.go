package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/talbotapp/talbot/internal/chat"
	"github.com/talbotapp/talbot/internal/conversation"
	"github.com/talbotapp/talbot/internal/docs"
	"github.com/talbotapp/talbot/internal/profile"
	"github.com/talbotapp/talbot/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Uploads carry multipart overhead on top of the document itself.
const maxUploadBodySize = profile.MaxDocumentSize + 1<<20

// TurnRequest is the body of POST /turns.
type TurnRequest struct {
	Message string `json:"message"`
}

// StateResponse is returned by GET /state.
type StateResponse struct {
	State    string `json:"state"`
	Messages int    `json:"messages"`
}

// ContextResponse is returned by GET /profile/context.
type ContextResponse struct {
	Summary string `json:"summary"`
	Context string `json:"context"`
}

// AvatarBody is the body of GET and PUT /profile/avatar.
type AvatarBody struct {
	Avatar string `json:"avatar"`
}

type AppDeps struct {
	Chat       *chat.Orchestrator
	Profile    *profile.Manager
	Log        *conversation.Log
	Documents  *docs.Intake
	CORSOrigin string
}

// NewAppHandler returns the companion's local API.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(CORS(deps.CORSOrigin))

	r.Get("/health", handleHealth)
	r.Post("/turns", handleTurn(deps))
	r.Get("/state", handleState(deps))

	r.Get("/profile", handleGetProfile(deps))
	r.Put("/profile", handlePutProfile(deps))
	r.Patch("/profile", handlePatchProfile(deps))
	r.Delete("/profile", handleDeleteProfile(deps))
	r.Get("/profile/context", handleProfileContext(deps))
	r.Get("/profile/documents", handleListDocuments(deps))
	r.Post("/profile/documents", handleUploadDocument(deps))
	r.Delete("/profile/documents/{id}", handleDeleteDocument(deps))
	r.Get("/profile/avatar", handleGetAvatar(deps))
	r.Put("/profile/avatar", handlePutAvatar(deps))

	r.Get("/conversation", handleConversation(deps))
	r.Delete("/conversation", handleClearConversation(deps))
	r.Get("/conversation/export", handleExport(deps))
	r.Post("/conversation/import", handleImport(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleTurn(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		turn, err := deps.Chat.Submit(r.Context(), req.Message)
		switch {
		case errors.Is(err, chat.ErrEmptyInput):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
		case errors.Is(err, chat.ErrBusy):
			httpError(w, http.StatusConflict, "busy", "%v", err)
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "turn failed: %v", err)
		default:
			writeJSON(w, http.StatusOK, turn)
		}
	}
}

func handleState(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StateResponse{
			State:    deps.Chat.State().String(),
			Messages: deps.Log.Len(),
		})
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		if p == nil {
			httpError(w, http.StatusNotFound, "not_found", "no profile saved")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePutProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var p profile.Profile
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		// Documents are managed through /profile/documents.
		p.Documents = nil
		if err := deps.Profile.Save(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}

func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for key, value := range fields {
			if err := deps.Profile.SetField(key, value); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to set field %q: %v", key, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleDeleteProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !confirmed(r) {
			httpError(w, http.StatusBadRequest, "confirmation_required", "clearing the profile is irreversible; repeat with ?confirm=true")
			return
		}
		if err := deps.Profile.Clear(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleProfileContext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ContextResponse{
			Summary: profile.Summary(p),
			Context: profile.BuildContext(p, r.URL.Query().Get("message")),
		})
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Profile.Documents()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if list == nil {
			list = []profile.Document{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleUploadDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "document exceeds %s", docs.FormatSize(profile.MaxDocumentSize))
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field \"file\" is required: %v", err)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		doc, err := deps.Documents.Add(header.Filename, header.Header.Get("Content-Type"), data)
		if errors.Is(err, docs.ErrTooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "document exceeds %s", docs.FormatSize(profile.MaxDocumentSize))
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store document: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Documents.Remove(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleGetAvatar(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := deps.Profile.Avatar()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get avatar: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, AvatarBody{Avatar: ref})
	}
}

func handlePutAvatar(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		var body AvatarBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := deps.Profile.SetAvatar(body.Avatar); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save avatar: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}

func handleConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs := deps.Chat.History()
		if msgs == nil {
			msgs = []conversation.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleClearConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !confirmed(r) {
			httpError(w, http.StatusBadRequest, "confirmation_required", "clearing the conversation is irreversible; repeat with ?confirm=true")
			return
		}
		err := deps.Chat.Reset()
		if errors.Is(err, chat.ErrBusy) {
			httpError(w, http.StatusConflict, "busy", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear conversation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp := deps.Log.Snapshot()
		b, err := json.MarshalIndent(exp, "", "  ")
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to export conversation: %v", err)
			return
		}
		name := fmt.Sprintf("talbot-conversation-%s.json", exp.ExportDate.Format("2006-01-02"))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.Write(b)
	}
}

func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}
		n, err := deps.Chat.Import(data)
		if errors.Is(err, chat.ErrBusy) {
			httpError(w, http.StatusConflict, "busy", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid export: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"imported": n})
	}
}

func confirmed(r *http.Request) bool {
	return r.URL.Query().Get("confirm") == "true"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
