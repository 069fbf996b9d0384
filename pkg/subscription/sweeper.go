package subscription

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = time.Hour

// Sweeper periodically expires subscriptions past their end date and
// downgrades the affected users to the free plan. Multiple instances
// may run concurrently: the status=active precondition in the store
// makes double-processing a no-op.
type Sweeper struct {
	svc      Service
	interval time.Duration
	logger   *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs. Defaults to hourly.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(sw *Sweeper) {
		if d > 0 {
			sw.interval = d
		}
	}
}

// WithSweeperLogger sets the structured logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(sw *Sweeper) {
		if logger != nil {
			sw.logger = logger
		}
	}
}

// NewSweeper creates the expiration sweep worker.
func NewSweeper(svc Service, opts ...SweeperOption) *Sweeper {
	if svc == nil {
		panic("subscription: Service is required")
	}
	sw := &Sweeper{
		svc:      svc,
		interval: defaultSweepInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Start runs the sweep loop until ctx is cancelled. It sweeps once
// immediately on start, then on every tick.
func (sw *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("expiration sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	processed, err := sw.svc.ProcessExpired(ctx)
	if err != nil {
		sw.logger.LogAttrs(ctx, slog.LevelError, "expiration sweep failed",
			slog.String("error", err.Error()))
	} else if processed > 0 {
		sw.logger.LogAttrs(ctx, slog.LevelInfo, "expired subscriptions downgraded",
			slog.Int("count", processed))
	}

	sent, err := sw.svc.SendExpirationReminders(ctx)
	if err != nil {
		sw.logger.LogAttrs(ctx, slog.LevelWarn, "expiration reminders failed",
			slog.String("error", err.Error()))
	} else if sent > 0 {
		sw.logger.LogAttrs(ctx, slog.LevelInfo, "expiration reminders sent",
			slog.Int("count", sent))
	}
}
