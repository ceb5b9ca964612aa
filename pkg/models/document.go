package models

import "time"

// Document is a rendered PDF recorded in the ledger
type Document struct {
	Filename     string     `json:"filename"`
	SourceURL    string     `json:"sourceUrl"`
	FinalURL     string     `json:"finalUrl"`
	Title        string     `json:"title"`
	Pages        int        `json:"pages"`
	Bytes        int64      `json:"bytes"`
	CreatedAt    time.Time  `json:"createdAt"`
	DownloadedAt *time.Time `json:"downloadedAt,omitempty"`
}

// ArchiveRequest lists previously rendered files to bundle
type ArchiveRequest struct {
	Filenames []string `json:"filenames"`
}

// CSVUploadResponse is returned after extracting URLs from an uploaded CSV
type CSVUploadResponse struct {
	Message string   `json:"message"`
	URLs    []string `json:"urls"`
	Count   int      `json:"count"`
}

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error      string `json:"error"`
	CurrentURL string `json:"currentUrl,omitempty"`
	PageTitle  string `json:"pageTitle,omitempty"`
	FoundURLs  int    `json:"foundUrls,omitempty"`
}
