package models

// Generic per-URL failure reasons. Raw error detail never reaches clients.
const (
	ReasonInvalidURL   = "invalid URL format"
	ReasonLoadFailed   = "failed to load page"
	ReasonRenderFailed = "failed to generate PDF"
)

// Tab origins reported on successful outcomes
const (
	TabNew      = "new tab"
	TabExisting = "existing tab"
	TabLogin    = "login tab"
)

// Outcome is the result of processing one URL of a batch. Exactly one of
// the success fields or Error is populated.
type Outcome struct {
	URL                  string `json:"url"`
	Success              bool   `json:"success"`
	Filename             string `json:"filename,omitempty"`
	DownloadURL          string `json:"downloadUrl,omitempty"`
	StoragePath          string `json:"-"`
	FinalURL             string `json:"actualUrl,omitempty"`
	PageTitle            string `json:"pageTitle,omitempty"`
	TabOrigin            string `json:"tabInfo,omitempty"`
	Pages                int    `json:"pages,omitempty"`
	UsingExistingBrowser bool   `json:"usingExistingBrowser,omitempty"`
	Error                string `json:"error,omitempty"`
}

// Failed builds a failure outcome for url
func Failed(url, reason string) Outcome {
	return Outcome{URL: url, Success: false, Error: reason}
}

// GenerateRequest is the payload for an automatic batch
type GenerateRequest struct {
	URLs string `json:"urls"`
}

// BatchResponse is returned by both batch entry points
type BatchResponse struct {
	Message      string    `json:"message"`
	Results      []Outcome `json:"results"`
	BatchID      string    `json:"batchId,omitempty"`
	SuccessCount int       `json:"successCount"`
	TotalCount   int       `json:"totalCount"`
}

// NewBatchResponse counts successes over results
func NewBatchResponse(results []Outcome, batchID string) BatchResponse {
	success := 0
	for _, r := range results {
		if r.Success {
			success++
		}
	}
	return BatchResponse{
		Message:      "PDF generation finished",
		Results:      results,
		BatchID:      batchID,
		SuccessCount: success,
		TotalCount:   len(results),
	}
}
