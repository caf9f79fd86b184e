package server

import (
	"context"
	"errors"
	"fmt"

	drepo "RunGuard/internal/domain/repository"
	"RunGuard/internal/handler/api"
	"RunGuard/internal/usecase"
	"RunGuard/pkg/config"
	xhttp "RunGuard/pkg/http"
	pkgkafka "RunGuard/pkg/kafka"
	applogger "RunGuard/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	registry   *usecase.SessionRegistry
	recorder   drepo.Recorder
	hub        *api.StreamHub
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	replayer   *usecase.Replayer
}

// New creates a new App instance with all dependencies. consumer may be nil
// when the Kafka feed is disabled.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	registry *usecase.SessionRegistry,
	recorder drepo.Recorder,
	hub *api.StreamHub,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	replayer *usecase.Replayer,
) *App {
	return &App{
		cfg:        cfg,
		l:          l,
		registry:   registry,
		recorder:   recorder,
		hub:        hub,
		httpServer: httpServer,
		consumer:   consumer,
		kh:         kh,
		replayer:   replayer,
	}
}

// Run serves the HTTP API and, when configured, consumes the blocks topic.
// It blocks until ctx is cancelled and then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if a.consumer != nil && a.kh != nil {
		if err := a.consumer.RegisterHandler(a.kh); err != nil {
			return fmt.Errorf("register kafka handler: %w", err)
		}
		if err := a.consumer.Start(ctx); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown(context.WithoutCancel(ctx))
}

// Replay runs one block file through a fresh session and returns. Nothing
// listens while it runs.
func (a *App) Replay(ctx context.Context, path string) (*usecase.ReplayStats, error) {
	stats, runErr := a.replayer.ReplayFile(ctx, path)
	if stats != nil {
		a.l.Info("replay finished",
			applogger.String("file", path),
			applogger.String("session_id", stats.SessionID),
			applogger.Int("blocks", stats.Blocks),
		)
	}
	return stats, errors.Join(runErr, a.shutdown(context.WithoutCancel(ctx)))
}

// shutdown stops intake first so no block is half-processed, then flushes
// snapshots and closes the recorders.
func (a *App) shutdown(ctx context.Context) error {
	a.l.Info("shutting down")
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if err := a.httpServer.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.hub != nil {
		a.hub.Close()
	}

	if err := a.registry.Close(ctx); err != nil {
		a.l.Warn("session flush error", applogger.Error(err))
		errs = append(errs, err)
	}

	if err := a.recorder.Close(); err != nil {
		a.l.Warn("recorder close error", applogger.Error(err))
		errs = append(errs, err)
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
