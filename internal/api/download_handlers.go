package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/webpage2pdf/internal/ledger"
	"github.com/shehryarbajwa/webpage2pdf/internal/storage"
	"github.com/shehryarbajwa/webpage2pdf/pkg/models"
)

const (
	defaultDocumentLimit = 50
	maxDocumentLimit     = 500
)

// Download handles GET /download/{filename}. The file is deleted once the
// purge delay after its first download has passed; repeated downloads within
// the delay return the same content.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if !storage.ValidName(name) {
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid file name"})
		return
	}

	f, err := h.store.Open(name)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)

	h.logger.Info().Str("file", name).Int64("bytes", info.Size()).Msg("📥 document downloaded")

	key := "download:" + name
	if !h.reaper.Pending(key) {
		h.reaper.Schedule(key, h.downloadPurge, func() error {
			return h.purge(name)
		})
	}

	if h.ledger != nil {
		if err := h.ledger.MarkDownloaded(r.Context(), name, time.Now()); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			h.logger.Warn().Err(err).Str("file", name).Msg("failed to mark document downloaded")
		}
	}
}

// DownloadBatch handles POST /download-batch
func (h *Handler) DownloadBatch(w http.ResponseWriter, r *http.Request) {
	var req models.ArchiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Filenames) == 0 {
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "no files specified"})
		return
	}

	res, err := h.archives.Build(r.Context(), req.Filenames)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	f, err := h.store.Open(res.Filename)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	http.ServeContent(w, r, res.Filename, info.ModTime(), f)

	h.logger.Info().Str("file", res.Filename).Int("documents", res.Count).Msg("📦 archive sent")
}

// ListDocuments handles GET /documents
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := defaultDocumentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxDocumentLimit)
	}

	docs := []models.Document{}
	if h.ledger != nil {
		recent, err := h.ledger.Recent(r.Context(), limit)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		docs = append(docs, recent...)
	}

	respondJSON(w, http.StatusOK, docs)
}

// GetDocument handles GET /documents/{filename}
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if h.ledger == nil || !storage.ValidName(name) {
		respondJSON(w, http.StatusNotFound, models.ErrorResponse{Error: ledger.ErrNotFound.Error()})
		return
	}

	doc, err := h.ledger.Get(r.Context(), name)
	if errors.Is(err, ledger.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, models.ErrorResponse{Error: ledger.ErrNotFound.Error()})
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, doc)
}

// ForgetDocument drops what the API keeps about a file removed elsewhere:
// its pending post-download purge and its ledger row.
func (h *Handler) ForgetDocument(name string) {
	h.reaper.Cancel("download:" + name)
	if h.ledger != nil {
		if err := h.ledger.Delete(context.Background(), name); err != nil {
			h.logger.Warn().Err(err).Str("file", name).Msg("failed to drop ledger row")
		}
	}
}

// purge removes a downloaded document and its ledger row.
func (h *Handler) purge(name string) error {
	if err := h.store.Remove(name); err != nil {
		return err
	}
	if h.ledger != nil {
		if err := h.ledger.Delete(context.Background(), name); err != nil {
			return err
		}
	}
	h.logger.Info().Str("file", name).Msg("🗑️ downloaded document removed")
	return nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
