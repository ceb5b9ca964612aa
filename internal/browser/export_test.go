package browser

import "context"

// WithDialers replaces how the acquirer attaches to ports and connects to
// launched browsers.
func (a *Acquirer) WithDialers(
	attach func(ctx context.Context, port int) (Browser, error),
	open func(controlURL string, release func(context.Context) error) (Browser, error),
) *Acquirer {
	a.attach = attach
	a.open = open
	return a
}
