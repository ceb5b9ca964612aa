package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAcquire means no browser could be attached or launched.
	ErrAcquire = errors.New("failed to acquire browser")
	// ErrNavigation is returned when a page fails to load in time.
	ErrNavigation = errors.New("navigation failed")
)

// PageInfo is the address and document title a page currently shows.
type PageInfo struct {
	URL   string
	Title string
}

// Identity is the client descriptor applied to a page before navigation.
type Identity struct {
	UserAgent string
	Width     int
	Height    int
}

// NavigateOptions bounds a page load.
type NavigateOptions struct {
	Timeout   time.Duration
	IdleQuiet time.Duration
}

// PDFOptions describes the print layout. Sizes are in inches.
type PDFOptions struct {
	PaperWidth      float64
	PaperHeight     float64
	Margin          float64
	PrintBackground bool
}

// Page is one tab of a controllable browser.
type Page interface {
	Info(ctx context.Context) (PageInfo, error)
	Emulate(ctx context.Context, id Identity) error
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	PDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	Close() error
	IsClosed() bool
}

// Browser is a controllable browser instance, either attached (shared) or
// launched by this process (owned).
type Browser interface {
	Pages(ctx context.Context) ([]Page, error)
	NewPage(ctx context.Context) (Page, error)
	Shared() bool
	ControlURL() string
	// Disconnect drops the control connection and leaves the browser running.
	Disconnect()
	// Close shuts the browser down and releases whatever launched it.
	Close(ctx context.Context) error
}

// Lease is a page handed to the orchestrator. Pages that were newly created
// are closed after use; reused pages are left open.
type Lease struct {
	Page         Page
	NewlyCreated bool
}
