// Command dropmail-reaper runs the dropmail expiry sweeper against a
// configured backend.
//
// It connects the service (retrying while the backend comes up), then either
// performs a single sweep (--once) or sweeps on mail.sweep_interval until it
// receives SIGINT or SIGTERM.
//
// Every flag can also be set through the environment, e.g.
//
//	DROPMAIL_STORE_DRIVER=postgres \
//	DROPMAIL_STORE_DSN=postgres://localhost/dropmail?sslmode=disable \
//	dropmail-reaper
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rbaliyan/dropmail"
	"github.com/rbaliyan/dropmail/internal/backend"
	"github.com/rbaliyan/dropmail/internal/config"
	"github.com/rbaliyan/dropmail/retry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "dropmail-reaper:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger := cfg.Log.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(context.Background()); err != nil {
			logger.Warn("close backend", "error", err)
		}
	}()

	opts := []dropmail.Option{
		dropmail.WithStore(b.Store),
		dropmail.WithLogger(logger),
		dropmail.WithServiceName(cfg.ServiceName),
		dropmail.WithRetention(cfg.Mail.Retention),
	}
	if cfg.Once {
		opts = append(opts, dropmail.WithSweepInterval(0))
	} else {
		opts = append(opts, dropmail.WithSweepInterval(cfg.Mail.SweepInterval))
	}
	if cfg.EventsToRedis {
		opts = append(opts, dropmail.WithRedisClient(b.Redis))
	}

	svc, err := dropmail.NewService(opts...)
	if err != nil {
		return err
	}

	if err := connect(ctx, svc, cfg.ConnectAttempts, logger); err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			logger.Warn("close service", "error", err)
		}
	}()

	if cfg.Once {
		result, err := svc.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		logger.Info("sweep finished",
			"expired_messages", result.ExpiredMessages,
			"orphaned_entries", result.OrphanedEntries)
		return nil
	}

	logger.Info("reaper running", "interval", cfg.Mail.SweepInterval, "retention", cfg.Mail.Retention)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// connect retries svc.Connect with exponential backoff so the reaper can be
// started before its database.
func connect(ctx context.Context, svc dropmail.Service, attempts int, logger *slog.Logger) error {
	policy := retry.DefaultPolicy()
	policy.Attempts = attempts
	policy.Max = 10 * time.Second
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, dropmail.ErrAlreadyConnected) && retry.IsRetryable(err)
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, policy, svc.Connect); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}
