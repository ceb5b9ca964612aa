package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/phuslu/log"
)

// Launcher starts a browser process this service owns. It returns the CDP
// control URL and a function that tears the process down.
type Launcher interface {
	Launch(ctx context.Context) (controlURL string, release func(context.Context) error, err error)
}

// LocalLauncher starts Chrome on this host through the rod launcher.
type LocalLauncher struct {
	Bin      string
	Headless bool
}

func (l LocalLauncher) Launch(ctx context.Context) (string, func(context.Context) error, error) {
	// The process must outlive the request that started it, so ctx only
	// gates the start.
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	ln := launcher.New().
		Headless(l.Headless).
		NoSandbox(true).
		Leakless(true).
		Set("disable-setuid-sandbox").
		Set("disable-web-security").
		Set("disable-features", "VizDisplayCompositor").
		Set("start-maximized")
	if l.Bin != "" {
		ln = ln.Bin(l.Bin)
	}

	u, err := ln.Launch()
	if err != nil {
		return "", nil, err
	}

	release := func(context.Context) error {
		ln.Kill()
		ln.Cleanup()
		return nil
	}
	return u, release, nil
}

// Acquirer finds a browser: a running one on a debug port first, otherwise
// a freshly launched one.
type Acquirer struct {
	ports    []int
	launcher Launcher
	logger   *log.Logger

	// seams for tests
	attach func(ctx context.Context, port int) (Browser, error)
	open   func(controlURL string, release func(context.Context) error) (Browser, error)
}

func NewAcquirer(ports []int, l Launcher, logger *log.Logger) *Acquirer {
	return &Acquirer{
		ports:    ports,
		launcher: l,
		logger:   logger,
		attach:   attachPort,
		open: func(u string, release func(context.Context) error) (Browser, error) {
			return connect(u, false, release)
		},
	}
}

// Acquire returns a browser and whether it was attached (shared).
func (a *Acquirer) Acquire(ctx context.Context) (Browser, bool, error) {
	for _, port := range a.ports {
		b, err := a.attach(ctx, port)
		if err != nil {
			a.logger.Debug().Int("port", port).Err(err).Msg("no browser on debug port")
			continue
		}
		a.logger.Info().Int("port", port).Msg("✅ attached to existing browser")
		return b, true, nil
	}

	u, release, err := a.launcher.Launch(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("❌ browser launch failed")
		return nil, false, fmt.Errorf("%w: %v", ErrAcquire, err)
	}

	b, err := a.open(u, release)
	if err != nil {
		if release != nil {
			_ = release(context.Background())
		}
		a.logger.Error().Err(err).Msg("❌ connecting to launched browser failed")
		return nil, false, fmt.Errorf("%w: %v", ErrAcquire, err)
	}

	a.logger.Info().Str("control_url", u).Msg("🚀 launched new browser")
	return b, false, nil
}

func attachPort(ctx context.Context, port int) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := launcher.ResolveURL(fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	return connect(u, true, nil)
}
