package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// rodBrowser adapts a connected *rod.Browser. release, when set, tears down
// whatever process or container backs an owned browser.
type rodBrowser struct {
	browser    *rod.Browser
	controlURL string
	shared     bool
	cancel     context.CancelFunc
	release    func(ctx context.Context) error

	once sync.Once

	// One wrapper per tab so a closed mark survives later listings
	mu    sync.Mutex
	pages map[proto.TargetTargetID]*rodPage
}

// connect dials controlURL. The connection lives until Disconnect or Close.
func connect(controlURL string, shared bool, release func(context.Context) error) (*rodBrowser, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("connect %s: %w", controlURL, err)
	}
	return &rodBrowser{
		browser:    b,
		controlURL: controlURL,
		shared:     shared,
		cancel:     cancel,
		release:    release,
		pages:      make(map[proto.TargetTargetID]*rodPage),
	}, nil
}

func (r *rodBrowser) Pages(ctx context.Context) ([]Page, error) {
	pages, err := r.browser.Context(ctx).Pages()
	if err != nil {
		return nil, err
	}
	return r.track(pages), nil
}

// track wraps the listed tabs, reusing known wrappers, and forgets tabs that
// are gone.
func (r *rodBrowser) track(pages []*rod.Page) []Page {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make(map[proto.TargetTargetID]*rodPage, len(pages))
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		w, ok := r.pages[p.TargetID]
		if !ok {
			w = &rodPage{page: p}
		}
		live[p.TargetID] = w
		out = append(out, w)
	}
	r.pages = live
	return out
}

func (r *rodBrowser) wrap(p *rod.Page) *rodPage {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.pages[p.TargetID]; ok {
		return w
	}
	w := &rodPage{page: p}
	r.pages[p.TargetID] = w
	return w
}

func (r *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	p, err := r.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	return r.wrap(p), nil
}

func (r *rodBrowser) Shared() bool       { return r.shared }
func (r *rodBrowser) ControlURL() string { return r.controlURL }

func (r *rodBrowser) Disconnect() {
	r.once.Do(r.cancel)
}

func (r *rodBrowser) Close(ctx context.Context) error {
	if r.shared {
		r.Disconnect()
		return nil
	}

	err := r.browser.Context(ctx).Close()
	r.Disconnect()
	if r.release != nil {
		if rerr := r.release(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

type rodPage struct {
	page   *rod.Page
	closed atomic.Bool
}

func (p *rodPage) Info(ctx context.Context) (PageInfo, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return PageInfo{}, err
	}
	return PageInfo{URL: info.URL, Title: info.Title}, nil
}

func (p *rodPage) Emulate(ctx context.Context, id Identity) error {
	page := p.page.Context(ctx)
	if id.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: id.UserAgent}); err != nil {
			return err
		}
	}
	if id.Width > 0 && id.Height > 0 {
		return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             id.Width,
			Height:            id.Height,
			DeviceScaleFactor: 1,
		})
	}
	return nil
}

func (p *rodPage) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	page := p.page.Context(ctx)
	if opts.Timeout > 0 {
		page = page.Timeout(opts.Timeout)
		defer page.CancelTimeout()
	}

	var wait func()
	if opts.IdleQuiet > 0 {
		wait = page.WaitRequestIdle(opts.IdleQuiet, nil, nil, nil)
	}
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	if wait != nil {
		wait()
	}
	// wait() returns silently on timeout
	if err := page.GetContext().Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	return nil
}

func (p *rodPage) PDF(ctx context.Context, opts PDFOptions) ([]byte, error) {
	w, h, m := opts.PaperWidth, opts.PaperHeight, opts.Margin
	stream, err := p.page.Context(ctx).PDF(&proto.PagePrintToPDF{
		PaperWidth:      &w,
		PaperHeight:     &h,
		MarginTop:       &m,
		MarginBottom:    &m,
		MarginLeft:      &m,
		MarginRight:     &m,
		PrintBackground: opts.PrintBackground,
	})
	if err != nil {
		return nil, err
	}
	return io.ReadAll(stream)
}

func (p *rodPage) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.page.Close()
}

func (p *rodPage) IsClosed() bool {
	return p.closed.Load()
}
