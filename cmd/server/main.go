package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/shehryarbajwa/webpage2pdf/internal/api"
	"github.com/shehryarbajwa/webpage2pdf/internal/archive"
	"github.com/shehryarbajwa/webpage2pdf/internal/batch"
	"github.com/shehryarbajwa/webpage2pdf/internal/browser"
	"github.com/shehryarbajwa/webpage2pdf/internal/config"
	"github.com/shehryarbajwa/webpage2pdf/internal/ledger"
	"github.com/shehryarbajwa/webpage2pdf/internal/logger"
	"github.com/shehryarbajwa/webpage2pdf/internal/proxy"
	"github.com/shehryarbajwa/webpage2pdf/internal/ratelimit"
	"github.com/shehryarbajwa/webpage2pdf/internal/render"
	"github.com/shehryarbajwa/webpage2pdf/internal/session"
	"github.com/shehryarbajwa/webpage2pdf/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	lg := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		lg.Debug().Msgf(format, args...)
	})); err != nil {
		lg.Warn().Err(err).Msg("failed to set GOMAXPROCS")
	}

	lg.Info().Msg("Starting webpage2pdf...")

	// Storage
	store, err := storage.NewStore(cfg.Storage.Dir)
	if err != nil {
		lg.Fatal().Err(err).Str("dir", cfg.Storage.Dir).Msg("failed to open storage")
	}
	reaper := storage.NewReaper(lg)

	repo, err := ledger.New(cfg.Storage.LedgerPath)
	if err != nil {
		lg.Fatal().Err(err).Str("path", cfg.Storage.LedgerPath).Msg("failed to open ledger")
	}
	lg.Info().Str("dir", store.Root()).Str("ledger", cfg.Storage.LedgerPath).Msg("✓ Storage initialized")

	// Browser launch fallback
	var launch browser.Launcher = browser.LocalLauncher{Bin: cfg.Browser.Bin, Headless: cfg.Browser.Headless}
	var containers *browser.ContainerLauncher
	if cfg.Browser.LaunchMode == "container" {
		containers, err = browser.NewContainerLauncher(cfg.Browser.Image, lg)
		if err != nil {
			lg.Fatal().Err(err).Msg("failed to create docker client")
		}

		lg.Info().Str("image", cfg.Browser.Image).Msg("⏳ Ensuring browser image is available...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		err = containers.EnsureImage(ctx)
		cancel()
		if err != nil {
			lg.Fatal().Err(err).Msg("failed to ensure browser image")
		}
		launch = containers
	}
	acquirer := browser.NewAcquirer(cfg.Browser.DebugPorts, launch, lg)
	lg.Info().
		Ints("debug_ports", cfg.Browser.DebugPorts).
		Str("launch_mode", cfg.Browser.LaunchMode).
		Msg("✓ Browser acquisition configured")

	// Rendering
	nav := &browser.Navigator{
		Identity: browser.Identity{
			UserAgent: cfg.Browser.UserAgent,
			Width:     cfg.Browser.ViewportW,
			Height:    cfg.Browser.ViewportH,
		},
		Options: browser.NavigateOptions{
			Timeout:   cfg.Browser.NavTimeout.Duration,
			IdleQuiet: cfg.Browser.IdleQuiet.Duration,
		},
		Classify: browser.DefaultClassifier,
	}
	renderer := render.NewRenderer(store, repo, cfg.Storage.DownloadPrefix, lg)
	orchestrator := batch.NewOrchestrator(nav, renderer, reaper, batch.Timings{
		SettleDelay:      cfg.Browser.SettleDelay.Duration,
		LoginSettleDelay: cfg.Login.SettleDelay.Duration,
		LoginGrace:       cfg.Login.GracePeriod.Duration,
		CloseDelay:       cfg.Browser.CloseDelay.Duration,
	}, lg)
	batches := batch.NewService(acquirer, orchestrator, lg)

	// Manual login
	sessions := session.NewManager(batches, cfg.Login.GracePeriod.Duration, cfg.Login.SessionTTL.Duration, lg)
	proxyServer := proxy.NewServer(sessions, lg)
	lg.Info().Dur("grace", cfg.Login.GracePeriod.Duration).Dur("ttl", cfg.Login.SessionTTL.Duration).Msg("✓ Login sessions initialized")

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerHour, cfg.RateLimit.Burst)

	handler := api.NewHandler(api.Deps{
		Batches:        batches,
		Sessions:       sessions,
		Archives:       archive.NewBuilder(store, reaper, cfg.Storage.ArchivePurge.Duration, lg),
		Store:          store,
		Reaper:         reaper,
		Ledger:         repo,
		DownloadPurge:  cfg.Storage.DownloadPurge.Duration,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         lg,
	})
	router := handler.SetupRoutes(proxyServer, rateLimiter)
	lg.Info().Msg("✓ HTTP routes configured")

	janitor := storage.NewJanitor(store, cfg.Storage.Retention.Duration, handler.ForgetDocument, lg)
	if err := janitor.Start(cfg.Storage.SweepSchedule); err != nil {
		lg.Fatal().Err(err).Msg("failed to start storage janitor")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		lg.Info().Str("addr", cfg.Server.Addr).Msg("🚀 Server starting")
		if rateLimiter.Enabled() {
			lg.Info().Int("per_hour", rateLimiter.PerHour()).Msg("⏱️  Rate limit per client")
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	lg.Info().Msg("⏳ Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		lg.Error().Err(err).Msg("server forced to shutdown")
	}

	// Waiting login browsers first, then every pending close and purge
	sessions.Close()
	reaper.Flush()
	janitor.Stop()

	if err := repo.Close(); err != nil {
		lg.Warn().Err(err).Msg("failed to close ledger")
	}
	if containers != nil {
		if err := containers.Close(); err != nil {
			lg.Warn().Err(err).Msg("failed to close docker client")
		}
	}

	lg.Info().Msg("✅ Server stopped cleanly")
}
