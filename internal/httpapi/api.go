// ABOUTME: HTTP handlers mapping REST-ish routes onto gateway operations.
// ABOUTME: Responses are JSON; error bodies carry a single error field.

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/2389/courier-gateway/internal/dispatch"
	"github.com/2389/courier-gateway/internal/gateway"
	"github.com/2389/courier-gateway/internal/session"
)

// API serves the dashboard-facing JSON endpoints.
type API struct {
	gw      *gateway.Gateway
	handler dispatch.Handler
	logger  *slog.Logger
}

// New creates the API. handler is the in-process callback registered on
// every session created through HTTP; nil disables in-process handling.
func New(gw *gateway.Gateway, handler dispatch.Handler, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		gw:      gw,
		handler: handler,
		logger:  logger.With("component", "httpapi"),
	}
}

// Routes returns the API's route table.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/healthz", a.handleHealth)
	mux.HandleFunc("GET /api/sessions", a.handleList)
	mux.HandleFunc("POST /api/sessions/{id}", a.handleCreate)
	mux.HandleFunc("DELETE /api/sessions/{id}", a.handleDestroy)
	mux.HandleFunc("GET /api/sessions/{id}/status", a.handleStatus)
	mux.HandleFunc("GET /api/sessions/{id}/identity", a.handleIdentity)
	mux.HandleFunc("GET /api/sessions/{id}/qr", a.handlePairingCode)
	mux.HandleFunc("POST /api/sessions/{id}/send", a.handleSend)
	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": a.gw.ListSessions()})
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		WebhookURL string `json:"webhookUrl"`
	}
	// An empty body is fine; only malformed JSON is rejected.
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := a.gw.CreateSession(r.Context(), id, gateway.CreateOptions{
		WebhookURL: body.WebhookURL,
		Handler:    a.handler,
	})
	if err != nil {
		a.logger.Error("session create failed", "session_id", id, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleDestroy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]any{"disconnected": a.gw.DestroySession(id)})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := a.gw.GetStatus(r.PathValue("id"))
	code := http.StatusOK
	if status.State == session.StateNotFound {
		code = http.StatusNotFound
	}
	writeJSON(w, code, status)
}

func (a *API) handleIdentity(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.gw.GetIdentity(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "identity unavailable until session is ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clientInfo": ident})
}

func (a *API) handlePairingCode(w http.ResponseWriter, r *http.Request) {
	code, ok := a.gw.GetPairingCode(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no pairing code pending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"qr": code})
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.To == "" || body.Message == "" {
		writeError(w, http.StatusBadRequest, "to and message are required")
		return
	}

	res, err := a.gw.SendMessage(r.Context(), id, body.To, body.Message)
	switch {
	case errors.Is(err, gateway.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, gateway.ErrSessionNotReady):
		writeError(w, http.StatusConflict, "session not ready, scan pairing code first")
	case err != nil:
		a.logger.Error("send failed", "session_id", id, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":        true,
			"recipient": res.Recipient,
			"message":   res.Content,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
