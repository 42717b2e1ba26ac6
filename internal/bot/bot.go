// Package bot implements the core bot application: lifecycle management and
// orchestration of the activity listener, dashboard API, batch processor,
// and scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/averol/huddlebot/internal/config"
	"github.com/averol/huddlebot/internal/templates"
)

// Bot owns the application's long-running components and manages their
// lifecycle.
type Bot struct {
	logger    *slog.Logger
	cfg       *config.Config
	activity  *http.Server
	api       *http.Server
	queue     *templates.Queue
	scheduler *Scheduler
}

// NewBot wires the assembled components into the orchestrator. The activity
// server carries the channel's /api/messages endpoint; the api server
// carries the dashboard API.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	activityHandler http.Handler,
	apiHandler http.Handler,
	queue *templates.Queue,
	scheduler *Scheduler,
) *Bot {
	return &Bot{
		logger: logger.With("component", "bot_orchestrator"),
		cfg:    cfg,
		activity: &http.Server{
			Addr:              cfg.Bot.ListenAddr,
			Handler:           activityHandler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		api: &http.Server{
			Addr:              cfg.HTTP.ListenAddr,
			Handler:           apiHandler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		queue:     queue,
		scheduler: scheduler,
	}
}

// Run starts every component and blocks until the context is cancelled or a
// component fails, then shuts the rest down gracefully.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting activity listener", "addr", b.activity.Addr)
		if err := b.activity.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("activity listener failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		return b.shutdownServer(b.activity, "activity listener")
	})

	g.Go(func() error {
		b.logger.Info("Starting dashboard API", "addr", b.api.Addr)
		if err := b.api.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dashboard api failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		return b.shutdownServer(b.api, "dashboard api")
	})

	g.Go(func() error {
		// Recover deliveries left queued by a previous run before the
		// background loop starts draining.
		if _, err := b.queue.DrainQueued(gCtx); err != nil {
			b.logger.Warn("Startup delivery drain failed", "error", err)
		}
		return b.queue.Run(gCtx)
	})

	g.Go(func() error {
		if err := b.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

func (b *Bot) shutdownServer(srv *http.Server, name string) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		b.logger.Error("Server shutdown failed", "server", name, "error", err)
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}
	b.logger.Info("Server stopped", "server", name)
	return nil
}
