package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/shehryarbajwa/webpage2pdf/internal/batch"
	"github.com/shehryarbajwa/webpage2pdf/internal/csvurls"
	"github.com/shehryarbajwa/webpage2pdf/pkg/models"
)

// multipartOverhead is allowed on top of the file limit for form framing.
const multipartOverhead = 64 << 10

// UploadCSV handles POST /upload-csv. The multipart field csvFile is scanned
// for URL-like cells; nothing is rendered.
func (h *Handler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "file too large"})
			return
		}
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "no file uploaded"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("csvFile")
	if err != nil {
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "no file uploaded"})
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "file too large"})
		return
	}
	if !isCSV(header.Filename, header.Header.Get("Content-Type")) {
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "only CSV files are allowed"})
		return
	}

	urls, err := csvurls.Extract(file)
	if err != nil {
		h.logger.Warn().Err(err).Str("file", header.Filename).Msg("failed to read CSV")
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "failed to read CSV file"})
		return
	}

	switch {
	case len(urls) == 0:
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "no URLs found in CSV file"})
		return
	case len(urls) > batch.MaxURLs:
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error:     fmt.Sprintf("CSV contains %d URLs, at most %d are allowed", len(urls), batch.MaxURLs),
			FoundURLs: len(urls),
		})
		return
	}

	h.logger.Info().Str("file", header.Filename).Int("urls", len(urls)).Msg("📄 CSV parsed")

	respondJSON(w, http.StatusOK, models.CSVUploadResponse{
		Message: fmt.Sprintf("found %d URLs", len(urls)),
		URLs:    urls,
		Count:   len(urls),
	})
}

func isCSV(filename, contentType string) bool {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/csv"
}
