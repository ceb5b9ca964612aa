package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/webpage2pdf/internal/proxy"
	"github.com/shehryarbajwa/webpage2pdf/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(proxyServer *proxy.Server, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = corsMiddleware(http.HandlerFunc(h.NotFound))
	r.MethodNotAllowedHandler = corsMiddleware(http.HandlerFunc(h.MethodNotAllowed))

	// Endpoints that drive a browser are rate limited
	rendering := r.PathPrefix("").Subrouter()
	rendering.Use(RateLimitMiddleware(rateLimiter))
	rendering.HandleFunc("/generate-pdf", h.GeneratePDF).Methods("POST", "OPTIONS")
	rendering.HandleFunc("/prepare-login", h.PrepareLogin).Methods("POST", "OPTIONS")
	rendering.HandleFunc("/start-pdf-generation", h.StartGeneration).Methods("POST", "OPTIONS")

	r.HandleFunc("/cancel-login", h.CancelLogin).Methods("POST", "OPTIONS")
	r.HandleFunc("/login-sessions/{id}", h.GetLoginSession).Methods("GET")
	r.HandleFunc("/login-sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		proxyServer.HandleDebugConnection(w, r, mux.Vars(r)["id"])
	}).Methods("GET")

	// Files
	r.HandleFunc("/download/{filename}", h.Download).Methods("GET")
	r.HandleFunc("/download-batch", h.DownloadBatch).Methods("POST", "OPTIONS")
	r.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	r.HandleFunc("/documents/{filename}", h.GetDocument).Methods("GET")
	r.HandleFunc("/upload-csv", h.UploadCSV).Methods("POST", "OPTIONS")

	r.HandleFunc("/health", h.Health).Methods("GET")

	r.Use(loggingMiddleware(h.logger))
	r.Use(corsMiddleware)

	return r
}
