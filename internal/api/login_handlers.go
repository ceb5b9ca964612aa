package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/webpage2pdf/internal/session"
	"github.com/shehryarbajwa/webpage2pdf/pkg/models"
)

// PrepareLogin handles POST /prepare-login
func (h *Handler) PrepareLogin(w http.ResponseWriter, r *http.Request) {
	var req models.PrepareLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.sessions.Prepare(r.Context(), req.URLs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// StartGeneration handles POST /start-pdf-generation
func (h *Handler) StartGeneration(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		h.respondError(w, r, session.ErrSessionInvalid)
		return
	}

	outcomes, err := h.sessions.Start(r.Context(), req.SessionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := models.NewBatchResponse(outcomes, "")
	resp.Message = "PDF generation finished after login"
	respondJSON(w, http.StatusOK, resp)
}

// CancelLogin handles POST /cancel-login
func (h *Handler) CancelLogin(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.sessions.Cancel(req.SessionID); err != nil {
		h.respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetLoginSession handles GET /login-sessions/{id}
func (h *Handler) GetLoginSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s, err := h.sessions.Get(id)
	if errors.Is(err, session.ErrSessionInvalid) {
		respondJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "session not found"})
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, s)
}
