// Package browsertest provides in-memory browsers for tests that must not
// start Chrome.
package browsertest

import (
	"context"
	"errors"
	"sync"

	"github.com/shehryarbajwa/webpage2pdf/internal/browser"
)

// PDFBytes is what fake pages print.
var PDFBytes = []byte("%PDF-1.4\n%fake\n")

var (
	ErrLoad  = errors.New("net::ERR_NAME_NOT_RESOLVED at fake")
	ErrPrint = errors.New("Printing failed at fake")
)

// Site describes how a fake page behaves for one requested URL.
type Site struct {
	FinalURL  string
	Title     string
	FailLoad  bool
	FailPrint bool
}

// Browser is a scriptable browser.Browser.
type Browser struct {
	mu sync.Mutex

	shared       bool
	sites        map[string]Site
	pages        []*Page
	created      []*Page
	newPageErr   error
	disconnected int
	closed       int
}

func NewBrowser(shared bool) *Browser {
	return &Browser{shared: shared, sites: make(map[string]Site)}
}

// Site registers the behaviour of url.
func (b *Browser) Site(url string, s Site) *Browser {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sites[url] = s
	return b
}

// OpenTab adds an already-open tab showing url.
func (b *Browser) OpenTab(url, title string) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &Page{browser: b, url: url, title: title}
	b.pages = append(b.pages, p)
	return p
}

// FailNewPage makes NewPage return err.
func (b *Browser) FailNewPage(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newPageErr = err
}

func (b *Browser) Pages(ctx context.Context) ([]browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]browser.Page, 0, len(b.pages))
	for _, p := range b.pages {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.newPageErr != nil {
		return nil, b.newPageErr
	}
	p := &Page{browser: b, url: "about:blank"}
	b.pages = append(b.pages, p)
	b.created = append(b.created, p)
	return p, nil
}

func (b *Browser) Shared() bool       { return b.shared }
func (b *Browser) ControlURL() string { return "ws://127.0.0.1:9222/devtools/browser/fake" }

func (b *Browser) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected++
}

func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

// Created returns the pages opened through NewPage.
func (b *Browser) Created() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.created...)
}

func (b *Browser) Disconnected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnected
}

func (b *Browser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) site(url string) Site {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sites[url]
}

// Page is a scriptable browser.Page.
type Page struct {
	browser *Browser

	mu          sync.Mutex
	url         string
	title       string
	requested   string
	closed      bool
	identity    browser.Identity
	navigations []string
}

func (p *Page) Info(ctx context.Context) (browser.PageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return browser.PageInfo{URL: p.url, Title: p.title}, nil
}

func (p *Page) Emulate(ctx context.Context, id browser.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = id
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string, opts browser.NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := p.browser.site(url)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	if s.FailLoad {
		return ErrLoad
	}
	p.requested = url
	p.url = url
	if s.FinalURL != "" {
		p.url = s.FinalURL
	}
	p.title = s.Title
	return nil
}

func (p *Page) PDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error) {
	p.mu.Lock()
	requested := p.requested
	p.mu.Unlock()

	if p.browser.site(requested).FailPrint {
		return nil, ErrPrint
	}
	return append([]byte(nil), PDFBytes...), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// SetLocation moves the page without a navigation, as a human would.
func (p *Page) SetLocation(url, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.title = title
}

// Navigations lists every URL passed to Navigate.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Identity returns the last identity applied.
func (p *Page) Identity() browser.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}
