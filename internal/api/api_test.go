package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/webpage2pdf/internal/archive"
	"github.com/shehryarbajwa/webpage2pdf/internal/batch"
	"github.com/shehryarbajwa/webpage2pdf/internal/browser"
	"github.com/shehryarbajwa/webpage2pdf/internal/browser/browsertest"
	"github.com/shehryarbajwa/webpage2pdf/internal/ledger"
	"github.com/shehryarbajwa/webpage2pdf/internal/logger"
	"github.com/shehryarbajwa/webpage2pdf/internal/proxy"
	"github.com/shehryarbajwa/webpage2pdf/internal/ratelimit"
	"github.com/shehryarbajwa/webpage2pdf/internal/render"
	"github.com/shehryarbajwa/webpage2pdf/internal/session"
	"github.com/shehryarbajwa/webpage2pdf/internal/storage"
	"github.com/shehryarbajwa/webpage2pdf/pkg/models"
)

type queueAcquirer struct {
	mu       sync.Mutex
	browsers []*browsertest.Browser
	acquired int
}

func (q *queueAcquirer) Acquire(ctx context.Context) (browser.Browser, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.acquired >= len(q.browsers) {
		return nil, false, browser.ErrAcquire
	}
	b := q.browsers[q.acquired]
	q.acquired++
	return b, b.Shared(), nil
}

type testEnv struct {
	router  *mux.Router
	handler *Handler
	store   *storage.Store
	reaper  *storage.Reaper
	ledger  *ledger.Repository
	acq     *queueAcquirer
}

type envOptions struct {
	purge   time.Duration
	limiter *ratelimit.Limiter
}

func newTestEnv(t *testing.T, opts envOptions, browsers ...*browsertest.Browser) *testEnv {
	t.Helper()
	log := logger.Discard()

	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	repo, err := ledger.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	reaper := storage.NewReaper(log)

	if opts.purge == 0 {
		opts.purge = time.Hour
	}
	if opts.limiter == nil {
		opts.limiter = ratelimit.NewLimiter(0, 0)
	}

	renderer := render.NewRenderer(store, repo, "/download/", log)
	orch := batch.NewOrchestrator(&browser.Navigator{}, renderer, reaper, batch.Timings{}, log)
	acq := &queueAcquirer{browsers: browsers}
	svc := batch.NewService(acq, orch, log)
	sessions := session.NewManager(svc, time.Hour, time.Hour, log)
	t.Cleanup(sessions.Close)

	h := NewHandler(Deps{
		Batches:        svc,
		Sessions:       sessions,
		Archives:       archive.NewBuilder(store, reaper, time.Hour, log),
		Store:          store,
		Reaper:         reaper,
		Ledger:         repo,
		DownloadPurge:  opts.purge,
		MaxUploadBytes: 5 << 20,
		Logger:         log,
	})

	return &testEnv{
		router:  h.SetupRoutes(proxy.NewServer(sessions, log), opts.limiter),
		handler: h,
		store:   store,
		reaper:  reaper,
		ledger:  repo,
		acq:     acq,
	}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "OK", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "route not found", decodeError(t, rec).Error)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodOptions, "/generate-pdf", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGeneratePDF_InputErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		wantErr string
	}{
		{"empty", models.GenerateRequest{URLs: ""}, batch.ErrNoURLs.Error()},
		{"blank entries", models.GenerateRequest{URLs: " , ,"}, batch.ErrNoURLs.Error()},
		{"too many", models.GenerateRequest{URLs: strings.TrimSuffix(strings.Repeat("a.com,", 51), ",")}, batch.ErrTooManyURLs.Error()},
		{"not json", "urls", "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{}, browsertest.NewBrowser(false))

			rec := env.do(http.MethodPost, "/generate-pdf", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec).Error)
			assert.Equal(t, 0, env.acq.acquired)
		})
	}
}

func TestPrepareLogin_InvalidURLMessage(t *testing.T) {
	env := newTestEnv(t, envOptions{}, browsertest.NewBrowser(false))

	rec := env.do(http.MethodPost, "/prepare-login", map[string]string{"urls": "not a url,b.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid URL format"}`, rec.Body.String())
	assert.Equal(t, 0, env.acq.acquired)
}

func TestGeneratePDF_MixedBatch(t *testing.T) {
	b := browsertest.NewBrowser(false).
		Site("https://a.com", browsertest.Site{Title: "A"}).
		Site("https://b.com", browsertest.Site{Title: "B"})
	env := newTestEnv(t, envOptions{}, b)

	rec := env.do(http.MethodPost, "/generate-pdf", models.GenerateRequest{URLs: "a.com, not a url, b.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.BatchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp.TotalCount)
	assert.Equal(t, 2, resp.SuccessCount)
	assert.NotEmpty(t, resp.BatchID)

	require.Len(t, resp.Results, 3)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, models.ReasonInvalidURL, resp.Results[1].Error)
	assert.True(t, resp.Results[2].Success)
	assert.True(t, strings.HasPrefix(resp.Results[0].DownloadURL, "/download/"))

	docs := env.do(http.MethodGet, "/documents", nil)
	require.Equal(t, http.StatusOK, docs.Code)
	var listed []models.Document
	require.NoError(t, json.NewDecoder(docs.Body).Decode(&listed))
	assert.Len(t, listed, 2)
}

func TestGeneratePDF_AcquireFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodPost, "/generate-pdf", models.GenerateRequest{URLs: "a.com"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to start browser", decodeError(t, rec).Error)
}

func TestGeneratePDF_RateLimited(t *testing.T) {
	env := newTestEnv(t, envOptions{limiter: ratelimit.NewLimiter(100, 1)})

	first := env.do(http.MethodPost, "/generate-pdf", models.GenerateRequest{})
	assert.Equal(t, http.StatusBadRequest, first.Code)
	assert.Equal(t, "100", first.Header().Get("X-RateLimit-Limit"))

	second := env.do(http.MethodPost, "/generate-pdf", models.GenerateRequest{})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	// Downloads are not limited
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", nil).Code)
}

func TestDownload_IdempotentUntilPurged(t *testing.T) {
	env := newTestEnv(t, envOptions{purge: 100 * time.Millisecond})
	_, err := env.store.Write("report.pdf", []byte("%PDF-1.4 report"))
	require.NoError(t, err)

	first := env.do(http.MethodGet, "/download/report.pdf", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "application/pdf", first.Header().Get("Content-Type"))
	assert.Contains(t, first.Header().Get("Content-Disposition"), `filename="report.pdf"`)

	second := env.do(http.MethodGet, "/download/report.pdf", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	assert.Eventually(t, func() bool {
		return !env.store.Exists("report.pdf")
	}, 2*time.Second, 10*time.Millisecond)

	gone := env.do(http.MethodGet, "/download/report.pdf", nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)
	assert.Equal(t, "file not found", decodeError(t, gone).Error)
}

func TestDownload_MarksLedger(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, err := env.store.Write("a.pdf", []byte("%PDF"))
	require.NoError(t, err)
	require.NoError(t, env.ledger.Record(context.Background(), models.Document{
		Filename:  "a.pdf",
		SourceURL: "https://a.com",
		CreatedAt: time.Now(),
	}))

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/download/a.pdf", nil).Code)

	doc, err := env.ledger.Get(context.Background(), "a.pdf")
	require.NoError(t, err)
	assert.NotNil(t, doc.DownloadedAt)
}

func TestGetDocument(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.NoError(t, env.ledger.Record(context.Background(), models.Document{
		Filename:  "a.pdf",
		SourceURL: "https://a.com",
		Title:     "A",
		Pages:     2,
		CreatedAt: time.Now(),
	}))

	rec := env.do(http.MethodGet, "/documents/a.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc models.Document
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Equal(t, "a.pdf", doc.Filename)
	assert.Equal(t, "https://a.com", doc.SourceURL)
	assert.Equal(t, 2, doc.Pages)
	assert.Nil(t, doc.DownloadedAt)

	missing := env.do(http.MethodGet, "/documents/missing.pdf", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, ledger.ErrNotFound.Error(), decodeError(t, missing).Error)
}

func TestForgetDocument_DropsPurgeAndLedgerRow(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, err := env.store.Write("a.pdf", []byte("%PDF"))
	require.NoError(t, err)
	require.NoError(t, env.ledger.Record(context.Background(), models.Document{
		Filename:  "a.pdf",
		SourceURL: "https://a.com",
		CreatedAt: time.Now(),
	}))

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/download/a.pdf", nil).Code)
	require.True(t, env.reaper.Pending("download:a.pdf"))

	env.handler.ForgetDocument("a.pdf")

	assert.False(t, env.reaper.Pending("download:a.pdf"))
	_, err = env.ledger.Get(context.Background(), "a.pdf")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/documents/a.pdf", nil).Code)
}

func TestDownload_Missing(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodGet, "/download/missing.pdf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestDownload_RejectsUnsafeName(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodGet, "/download/..pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadBatch(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, err := env.store.Write("a.pdf", []byte("%PDF a"))
	require.NoError(t, err)
	_, err = env.store.Write("b.pdf", []byte("%PDF b"))
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/download-batch", models.ArchiveRequest{
		Filenames: []string{"a.pdf", "gone.pdf", "b.pdf"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"a.pdf", "b.pdf"}, names)
}

func TestDownloadBatch_NothingToArchive(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodPost, "/download-batch", models.ArchiveRequest{Filenames: []string{"gone.pdf"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, archive.ErrNothingToArchive.Error(), decodeError(t, rec).Error)

	empty := env.do(http.MethodPost, "/download-batch", models.ArchiveRequest{})
	assert.Equal(t, http.StatusBadRequest, empty.Code)
}

func TestStartGeneration_UnknownSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(http.MethodPost, "/start-pdf-generation", models.SessionRequest{SessionID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, session.ErrSessionInvalid.Error(), decodeError(t, rec).Error)
}

func TestLoginFlow(t *testing.T) {
	const orders = "https://shop.example.com/orders"
	b := browsertest.NewBrowser(false).
		Site(orders, browsertest.Site{FinalURL: "https://shop.example.com/login", Title: "Sign in"})
	env := newTestEnv(t, envOptions{}, b)

	rec := env.do(http.MethodPost, "/prepare-login", models.PrepareLoginRequest{URLs: "shop.example.com/orders"})
	require.Equal(t, http.StatusOK, rec.Code)
	var prep models.PrepareLoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&prep))
	require.NotEmpty(t, prep.SessionID)

	status := env.do(http.MethodGet, "/login-sessions/"+prep.SessionID, nil)
	require.Equal(t, http.StatusOK, status.Code)
	var view models.LoginSession
	require.NoError(t, json.NewDecoder(status.Body).Decode(&view))
	assert.Equal(t, models.StateLoginPending, view.State)

	// Still on the login page: 400 with where the tab is
	still := env.do(http.MethodPost, "/start-pdf-generation", models.SessionRequest{SessionID: prep.SessionID})
	require.Equal(t, http.StatusBadRequest, still.Code)
	body := decodeError(t, still)
	assert.Equal(t, "https://shop.example.com/login", body.CurrentURL)
	assert.Equal(t, "Sign in", body.PageTitle)

	// The operator logs in
	b.Created()[0].SetLocation(orders, "Your orders")

	done := env.do(http.MethodPost, "/start-pdf-generation", models.SessionRequest{SessionID: prep.SessionID})
	require.Equal(t, http.StatusOK, done.Code)
	var resp models.BatchResponse
	require.NoError(t, json.NewDecoder(done.Body).Decode(&resp))
	assert.Equal(t, 1, resp.SuccessCount)
	assert.Equal(t, models.TabLogin, resp.Results[0].TabOrigin)

	again := env.do(http.MethodPost, "/start-pdf-generation", models.SessionRequest{SessionID: prep.SessionID})
	assert.Equal(t, http.StatusBadRequest, again.Code)
}

func TestCancelLogin(t *testing.T) {
	b := browsertest.NewBrowser(false)
	env := newTestEnv(t, envOptions{}, b)

	rec := env.do(http.MethodPost, "/prepare-login", models.PrepareLoginRequest{URLs: "a.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	var prep models.PrepareLoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&prep))

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/cancel-login", models.SessionRequest{SessionID: prep.SessionID}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/cancel-login", models.SessionRequest{SessionID: prep.SessionID}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/login-sessions/"+prep.SessionID, nil).Code)
}

func uploadCSV(t *testing.T, env *testEnv, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("csvFile", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload-csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadCSV(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := uploadCSV(t, env, "urls.csv", "name,url\nA,https://a.com\nB,b.com/x\n")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.CSVUploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"https://a.com", "b.com/x"}, resp.URLs)
	assert.Equal(t, 2, resp.Count)
}

func TestUploadCSV_Rejects(t *testing.T) {
	var many strings.Builder
	for i := 0; i < 51; i++ {
		many.WriteString("https://site" + string(rune('a'+i%26)) + ".com/" + strings.Repeat("x", i) + "\n")
	}

	t.Run("no urls", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		rec := uploadCSV(t, env, "urls.csv", "name,notes\nfoo,bar\n")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too many", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		rec := uploadCSV(t, env, "urls.csv", many.String())
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 51, decodeError(t, rec).FoundURLs)
	})

	t.Run("not csv", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		rec := uploadCSV(t, env, "urls.txt", "https://a.com\n")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing field", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		rec := env.do(http.MethodPost, "/upload-csv", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
