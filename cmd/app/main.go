package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RunGuard/internal/di"
	"RunGuard/internal/usecase"
	"RunGuard/pkg/config"
	xhttp "RunGuard/pkg/http"
	applogger "RunGuard/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	replayPath := flag.String("replay", "", "replay a .jsonl or .csv block file through one session and exit")
	target := flag.String("target", "", "with -replay, send blocks to a running server at this base URL instead of a local session")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *replayPath, *target); err != nil {
		fmt.Fprintf(os.Stderr, "runguard: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, replayPath, target string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	if replayPath != "" && target != "" {
		return replayRemote(ctx, cfg, replayPath, target)
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()

	if replayPath != "" {
		_, err := app.Replay(ctx, replayPath)
		return err
	}
	return app.Run(ctx)
}

func replayRemote(ctx context.Context, cfg *config.Config, path, target string) error {
	l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stdout"})
	if err != nil {
		return err
	}
	remote := usecase.NewRemoteSessions(target, xhttp.NewClient(xhttp.WithTimeout(30*time.Second), xhttp.WithRetry(5, 200*time.Millisecond)))
	stats, err := usecase.NewReplayer(remote, l).ReplayFile(ctx, path)
	if stats != nil {
		l.Info("remote replay finished",
			applogger.String("target", target),
			applogger.String("session_id", stats.SessionID),
			applogger.Int("blocks", stats.Blocks),
		)
	}
	return err
}
