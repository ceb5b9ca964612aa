package browser

import (
	"context"
	"fmt"
	"strings"
)

// PageKind is the coarse classification of a loaded page.
type PageKind int

const (
	KindContent PageKind = iota
	KindLogin
)

// Classifier decides what kind of page a URL and title describe.
type Classifier func(url, title string) PageKind

var loginVocabulary = []string{"login", "signin", "sign-in", "sign in", "log in", "ログイン"}

// DefaultClassifier flags pages whose address or title mentions logging in.
// False positives and negatives are expected.
func DefaultClassifier(url, title string) PageKind {
	u := strings.ToLower(url)
	t := strings.ToLower(title)
	for _, word := range loginVocabulary {
		if strings.Contains(u, word) || strings.Contains(t, word) {
			return KindLogin
		}
	}
	return KindContent
}

var blankPrefixes = []string{"about:blank", "chrome://newtab", "chrome://new-tab-page", "chrome-extension://"}

// IsBlank reports whether url is an empty placeholder tab.
func IsBlank(url string) bool {
	if url == "" {
		return true
	}
	for _, p := range blankPrefixes {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}

// ObtainPage picks the tab to render into. A supplied reuse page wins.
// A shared browser offers its first open blank tab before a new one is
// created. An owned browser always gets a new tab.
func ObtainPage(ctx context.Context, b Browser, reuse Page) (Lease, error) {
	if reuse != nil && !reuse.IsClosed() {
		return Lease{Page: reuse}, nil
	}

	if b.Shared() {
		pages, err := b.Pages(ctx)
		if err == nil {
			for _, p := range pages {
				if p.IsClosed() {
					continue
				}
				info, err := p.Info(ctx)
				if err != nil {
					continue
				}
				if IsBlank(info.URL) {
					return Lease{Page: p}, nil
				}
			}
		}
	}

	p, err := b.NewPage(ctx)
	if err != nil {
		return Lease{}, fmt.Errorf("open page: %w", err)
	}
	return Lease{Page: p, NewlyCreated: true}, nil
}

// NavigationResult is where a page ended up after loading.
type NavigationResult struct {
	FinalURL    string
	Title       string
	LikelyLogin bool
}

// Navigator loads URLs into pages with a fixed client identity.
type Navigator struct {
	Identity Identity
	Options  NavigateOptions
	Classify Classifier
}

// Navigate applies the identity, loads url, and classifies the result.
func (n *Navigator) Navigate(ctx context.Context, page Page, url string) (NavigationResult, error) {
	if err := page.Emulate(ctx, n.Identity); err != nil {
		return NavigationResult{}, fmt.Errorf("%w: emulate: %v", ErrNavigation, err)
	}
	if err := page.Navigate(ctx, url, n.Options); err != nil {
		return NavigationResult{}, err
	}
	return n.Inspect(ctx, page)
}

// Inspect reads the page's current address and title and classifies them.
func (n *Navigator) Inspect(ctx context.Context, page Page) (NavigationResult, error) {
	info, err := page.Info(ctx)
	if err != nil {
		return NavigationResult{}, fmt.Errorf("%w: read page info: %v", ErrNavigation, err)
	}
	classify := n.Classify
	if classify == nil {
		classify = DefaultClassifier
	}
	return NavigationResult{
		FinalURL:    info.URL,
		Title:       info.Title,
		LikelyLogin: classify(info.URL, info.Title) == KindLogin,
	}, nil
}
