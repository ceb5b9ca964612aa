package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/phuslu/log"

	"github.com/shehryarbajwa/webpage2pdf/internal/archive"
	"github.com/shehryarbajwa/webpage2pdf/internal/batch"
	"github.com/shehryarbajwa/webpage2pdf/internal/browser"
	"github.com/shehryarbajwa/webpage2pdf/internal/session"
	"github.com/shehryarbajwa/webpage2pdf/internal/storage"
	"github.com/shehryarbajwa/webpage2pdf/pkg/models"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// BatchGenerator runs automatic batches. Implemented by batch.Service.
type BatchGenerator interface {
	Generate(ctx context.Context, raw string) (models.BatchResponse, error)
}

// LoginSessions drives manual-login batches. Implemented by session.Manager.
type LoginSessions interface {
	Prepare(ctx context.Context, raw string) (models.PrepareLoginResponse, error)
	Start(ctx context.Context, id string) ([]models.Outcome, error)
	Cancel(id string) error
	Get(id string) (models.LoginSession, error)
}

// Archiver bundles rendered files. Implemented by archive.Builder.
type Archiver interface {
	Build(ctx context.Context, filenames []string) (archive.Result, error)
}

// DocumentLedger is the document history. Implemented by ledger.Repository.
type DocumentLedger interface {
	Get(ctx context.Context, filename string) (*models.Document, error)
	Recent(ctx context.Context, limit int) ([]models.Document, error)
	MarkDownloaded(ctx context.Context, filename string, at time.Time) error
	Delete(ctx context.Context, filename string) error
}

// Deps wires a Handler. Ledger may be nil.
type Deps struct {
	Batches        BatchGenerator
	Sessions       LoginSessions
	Archives       Archiver
	Store          *storage.Store
	Reaper         *storage.Reaper
	Ledger         DocumentLedger
	DownloadPurge  time.Duration
	MaxUploadBytes int64
	Logger         *log.Logger
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	batches        BatchGenerator
	sessions       LoginSessions
	archives       Archiver
	store          *storage.Store
	reaper         *storage.Reaper
	ledger         DocumentLedger
	downloadPurge  time.Duration
	maxUploadBytes int64
	logger         *log.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		batches:        d.Batches,
		sessions:       d.Sessions,
		archives:       d.Archives,
		store:          d.Store,
		reaper:         d.Reaper,
		ledger:         d.Ledger,
		downloadPurge:  d.DownloadPurge,
		maxUploadBytes: d.MaxUploadBytes,
		logger:         d.Logger,
	}
}

// GeneratePDF handles POST /generate-pdf
func (h *Handler) GeneratePDF(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.batches.Generate(r.Context(), req.URLs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// NotFound answers unknown routes
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "route not found"})
}

// MethodNotAllowed answers known routes hit with the wrong method
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: "method not allowed"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// respondError maps domain errors to a status and a generic message. The raw
// error is only logged.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := models.ErrorResponse{Error: "internal server error"}

	var still *session.StillOnLoginError
	switch {
	case errors.Is(err, batch.ErrNoURLs):
		status, body.Error = http.StatusBadRequest, batch.ErrNoURLs.Error()
	case errors.Is(err, batch.ErrTooManyURLs):
		status, body.Error = http.StatusBadRequest, batch.ErrTooManyURLs.Error()
	case errors.Is(err, batch.ErrInvalidURL):
		status, body.Error = http.StatusBadRequest, batch.ErrInvalidURL.Error()
	case errors.As(err, &still):
		status, body.Error = http.StatusBadRequest, session.ErrStillOnLoginPage.Error()
		body.CurrentURL, body.PageTitle = still.CurrentURL, still.PageTitle
	case errors.Is(err, session.ErrSessionInvalid):
		status, body.Error = http.StatusBadRequest, session.ErrSessionInvalid.Error()
	case errors.Is(err, archive.ErrNothingToArchive):
		status, body.Error = http.StatusNotFound, archive.ErrNothingToArchive.Error()
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidName):
		status, body.Error = http.StatusNotFound, storage.ErrNotFound.Error()
	case errors.Is(err, browser.ErrAcquire):
		body.Error = "failed to start browser"
	case errors.Is(err, session.ErrLoginPage):
		body.Error = session.ErrLoginPage.Error()
	case errors.Is(err, context.Canceled):
		status, body.Error = http.StatusServiceUnavailable, "request cancelled"
	}

	ev := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.logger.Error()
	}
	ev.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")

	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
