package batch

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"github.com/shehryarbajwa/webpage2pdf/internal/browser"
	"github.com/shehryarbajwa/webpage2pdf/internal/render"
	"github.com/shehryarbajwa/webpage2pdf/internal/storage"
	"github.com/shehryarbajwa/webpage2pdf/pkg/models"
)

// Renderer prints a loaded page. Implemented by render.Renderer.
type Renderer interface {
	Render(ctx context.Context, page browser.Page, requestedURL string, nav browser.NavigationResult) (render.Rendered, error)
}

// Timings are the fixed waits of a batch run. SettleDelay lets page scripts
// run after load; LoginSettleDelay replaces it when resuming after a manual
// login. LoginGrace gives a human time to authenticate on a suspected login
// page. CloseDelay postpones closing an owned browser.
type Timings struct {
	SettleDelay      time.Duration
	LoginSettleDelay time.Duration
	LoginGrace       time.Duration
	CloseDelay       time.Duration
}

// Orchestrator renders URLs one after another in a single browser.
type Orchestrator struct {
	nav      *browser.Navigator
	renderer Renderer
	reaper   *storage.Reaper
	timings  Timings
	logger   *log.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(nav *browser.Navigator, renderer Renderer, reaper *storage.Reaper, timings Timings, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		nav:      nav,
		renderer: renderer,
		reaper:   reaper,
		timings:  timings,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Navigator exposes the navigator so login sessions load and inspect pages
// the same way batches do.
func (o *Orchestrator) Navigator() *browser.Navigator {
	return o.nav
}

// Run processes urls in order and returns one outcome per URL, in order.
// firstPage, when set, is used for the first URL. The browser is released
// when the run ends. Once started, every URL is processed even if ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context, b browser.Browser, urls []string, firstPage browser.Page) []models.Outcome {
	return o.run(ctx, b, urls, firstPage, o.timings.SettleDelay)
}

// Resume is Run for a batch continuing after a manual login. It waits
// LoginSettleDelay after each load.
func (o *Orchestrator) Resume(ctx context.Context, b browser.Browser, urls []string, firstPage browser.Page) []models.Outcome {
	return o.run(ctx, b, urls, firstPage, o.timings.LoginSettleDelay)
}

func (o *Orchestrator) run(ctx context.Context, b browser.Browser, urls []string, firstPage browser.Page, settle time.Duration) []models.Outcome {
	defer o.Release(b)
	ctx = context.WithoutCancel(ctx)

	outcomes := make([]models.Outcome, 0, len(urls))
	for _, task := range Tasks(urls) {
		var reuse browser.Page
		if task.Index == 0 {
			reuse = firstPage
		}
		outcome := o.process(ctx, b, task, reuse, settle)
		outcomes = append(outcomes, outcome)
	}

	success := 0
	for _, out := range outcomes {
		if out.Success {
			success++
		}
	}
	o.logger.Info().
		Int("success", success).
		Int("total", len(outcomes)).
		Bool("shared_browser", b.Shared()).
		Msg("✅ batch finished")

	return outcomes
}

func (o *Orchestrator) process(ctx context.Context, b browser.Browser, task Task, reuse browser.Page, settle time.Duration) models.Outcome {
	target := Normalize(task.RawURL)
	if err := Validate(target); err != nil {
		o.logger.Warn().Int("index", task.Index).Str("url", task.RawURL).Err(err).Msg("rejecting url")
		return models.Failed(task.RawURL, models.ReasonInvalidURL)
	}

	lease, err := browser.ObtainPage(ctx, b, reuse)
	if err != nil {
		o.logger.Error().Int("index", task.Index).Str("url", target).Err(err).Msg("❌ no page available")
		return models.Failed(task.RawURL, models.ReasonLoadFailed)
	}
	if lease.NewlyCreated {
		defer func() {
			if err := lease.Page.Close(); err != nil {
				o.logger.Debug().Err(err).Msg("closing page failed")
			}
		}()
	}

	origin := models.TabExisting
	switch {
	case lease.NewlyCreated:
		origin = models.TabNew
	case reuse != nil && lease.Page == reuse:
		origin = models.TabLogin
	}

	o.logger.Info().Int("index", task.Index).Str("url", target).Str("tab", origin).Msg("🌐 loading page")

	nav, err := o.nav.Navigate(ctx, lease.Page, target)
	if err != nil {
		o.logger.Error().Int("index", task.Index).Str("url", target).Err(err).Msg("❌ page load failed")
		return models.Failed(task.RawURL, models.ReasonLoadFailed)
	}

	if err := o.sleep(ctx, settle); err != nil {
		return models.Failed(task.RawURL, models.ReasonLoadFailed)
	}

	if nav.LikelyLogin {
		o.logger.Warn().
			Str("url", nav.FinalURL).
			Str("title", nav.Title).
			Dur("grace", o.timings.LoginGrace).
			Msg("⚠️ login page detected, waiting for manual login")
		if err := o.sleep(ctx, o.timings.LoginGrace); err != nil {
			return models.Failed(task.RawURL, models.ReasonLoadFailed)
		}
		// The human may have moved the page on
		if after, err := o.nav.Inspect(ctx, lease.Page); err == nil {
			nav = after
		}
	}

	doc, err := o.renderer.Render(ctx, lease.Page, target, nav)
	if err != nil {
		o.logger.Error().Int("index", task.Index).Str("url", target).Err(err).Msg("❌ pdf generation failed")
		return models.Failed(task.RawURL, models.ReasonRenderFailed)
	}

	return models.Outcome{
		URL:                  task.RawURL,
		Success:              true,
		Filename:             doc.Filename,
		DownloadURL:          doc.DownloadURL,
		StoragePath:          doc.Path,
		FinalURL:             nav.FinalURL,
		PageTitle:            nav.Title,
		TabOrigin:            origin,
		Pages:                doc.Pages,
		UsingExistingBrowser: b.Shared(),
	}
}

// Release hands the browser back. A shared browser is disconnected and left
// running. An owned browser is closed after the close delay.
func (o *Orchestrator) Release(b browser.Browser) {
	if b.Shared() {
		b.Disconnect()
		o.logger.Debug().Msg("disconnected from shared browser")
		return
	}

	closeBrowser := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return b.Close(ctx)
	}

	if o.reaper == nil || o.timings.CloseDelay <= 0 {
		if err := closeBrowser(); err != nil {
			o.logger.Warn().Err(err).Msg("closing browser failed")
		}
		return
	}
	o.reaper.Schedule("browser:"+b.ControlURL(), o.timings.CloseDelay, closeBrowser)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
