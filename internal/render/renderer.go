package render

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/phuslu/log"

	"github.com/shehryarbajwa/webpage2pdf/internal/browser"
	"github.com/shehryarbajwa/webpage2pdf/internal/storage"
	"github.com/shehryarbajwa/webpage2pdf/pkg/models"
)

// A4 with 1cm margins, in inches.
var A4 = browser.PDFOptions{
	PaperWidth:      8.27,
	PaperHeight:     11.69,
	Margin:          0.3937,
	PrintBackground: true,
}

const maxStemLen = 50

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Recorder stores render metadata. Implemented by ledger.Repository.
type Recorder interface {
	Record(ctx context.Context, doc models.Document) error
}

// Rendered is a document written to managed storage.
type Rendered struct {
	Filename    string
	Path        string
	DownloadURL string
	Pages       int
	Bytes       int64
}

// Renderer prints pages to PDF files in managed storage.
type Renderer struct {
	store  *storage.Store
	ledger Recorder
	prefix string
	layout browser.PDFOptions
	logger *log.Logger
	now    func() time.Time
}

// NewRenderer creates a renderer. downloadPrefix is prepended to filenames
// to form download paths. ledger may be nil.
func NewRenderer(store *storage.Store, ledger Recorder, downloadPrefix string, logger *log.Logger) *Renderer {
	return &Renderer{
		store:  store,
		ledger: ledger,
		prefix: downloadPrefix,
		layout: A4,
		logger: logger,
		now:    time.Now,
	}
}

// Filename derives a storage name from the requested URL and a nanosecond timestamp.
func Filename(requestedURL string, at time.Time) string {
	stem := unsafeChars.ReplaceAllString(requestedURL, "_")
	if len(stem) > maxStemLen {
		stem = stem[:maxStemLen]
	}
	return stem + "_" + strconv.FormatInt(at.UnixNano(), 10) + ".pdf"
}

// Render prints page and stores the result under a name derived from requestedURL.
func (r *Renderer) Render(ctx context.Context, page browser.Page, requestedURL string, nav browser.NavigationResult) (Rendered, error) {
	data, err := page.PDF(ctx, r.layout)
	if err != nil {
		return Rendered{}, fmt.Errorf("print page: %w", err)
	}

	created := r.now()
	name := Filename(requestedURL, created)
	path, err := r.store.Write(name, data)
	if err != nil {
		return Rendered{}, fmt.Errorf("store pdf: %w", err)
	}

	out := Rendered{
		Filename:    name,
		Path:        path,
		DownloadURL: r.prefix + name,
		Bytes:       int64(len(data)),
	}

	if pdfCtx, err := api.ReadContextFile(path); err != nil {
		r.logger.Warn().Err(err).Str("file", name).Msg("could not read back page count")
	} else {
		out.Pages = pdfCtx.PageCount
	}

	if r.ledger != nil {
		err := r.ledger.Record(ctx, models.Document{
			Filename:  name,
			SourceURL: requestedURL,
			FinalURL:  nav.FinalURL,
			Title:     nav.Title,
			Pages:     out.Pages,
			Bytes:     out.Bytes,
			CreatedAt: created,
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("file", name).Msg("ledger record failed")
		}
	}

	r.logger.Info().
		Str("file", name).
		Int("pages", out.Pages).
		Int64("bytes", out.Bytes).
		Msg("📄 pdf generated")

	return out, nil
}
