package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/feature"
)

// Store persists quota alerts. Insert must be idempotent on the
// (user, feature, type, period_start) key: re-inserting an existing
// crossing is a no-op reported as inserted=false, not an error.
type Store interface {
	Insert(ctx context.Context, a *Alert) (inserted bool, err error)
	Unsent(ctx context.Context, userID uuid.UUID) ([]Alert, error)

	// MarkSent flips is_sent for an alert owned by userID. A mismatch
	// between the alert's owner and userID fails with ErrUnauthorized.
	MarkSent(ctx context.Context, alertID, userID uuid.UUID) error

	Statistics(ctx context.Context, userID uuid.UUID) (Statistics, error)

	// PurgeSent deletes sent alerts older than the cutoff and returns
	// how many were removed. Housekeeping only.
	PurgeSent(ctx context.Context, olderThan time.Time) (int64, error)
}

// Engine evaluates usage percentages after every ledger write and emits
// one-shot alerts for newly crossed thresholds.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// NewEngine creates an alert engine over the given store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if store == nil {
		panic("alert: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// Evaluate inserts an alert for every threshold the new usage level has
// crossed. Unlimited features never alert. Store idempotency guarantees
// at most one alert per threshold per period even when two writers race.
// Returns only the alerts newly created by this evaluation.
func (e *Engine) Evaluate(ctx context.Context, userID uuid.UUID, code feature.Code, used, limit int64, periodStart time.Time) ([]Alert, error) {
	if limit == feature.Unlimited || limit <= 0 {
		return nil, nil
	}

	pct := used * 100 / limit

	var emitted []Alert
	for _, typ := range orderedTypes {
		if pct < int64(typ.Threshold()) {
			break
		}
		a := Alert{
			ID:                  uuid.New(),
			UserID:              userID,
			FeatureCode:         code,
			Type:                typ,
			ThresholdPercentage: typ.Threshold(),
			CurrentUsage:        used,
			QuotaLimit:          limit,
			PeriodStart:         periodStart,
		}
		inserted, err := e.store.Insert(ctx, &a)
		if err != nil {
			return emitted, err
		}
		if inserted {
			emitted = append(emitted, a)
		}
	}
	return emitted, nil
}

// Unsent returns the user's pending alerts, newest first.
func (e *Engine) Unsent(ctx context.Context, userID uuid.UUID) ([]Alert, error) {
	return e.store.Unsent(ctx, userID)
}

// MarkSent acknowledges an alert on behalf of userID. Cross-user
// acknowledgment fails with ErrUnauthorized.
func (e *Engine) MarkSent(ctx context.Context, alertID, userID uuid.UUID) error {
	return e.store.MarkSent(ctx, alertID, userID)
}

// Statistics summarizes the user's alert history.
func (e *Engine) Statistics(ctx context.Context, userID uuid.UUID) (Statistics, error) {
	return e.store.Statistics(ctx, userID)
}

// PurgeSent removes sent alerts older than 30 days.
func (e *Engine) PurgeSent(ctx context.Context, now time.Time) (int64, error) {
	n, err := e.store.PurgeSent(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.LogAttrs(ctx, slog.LevelInfo, "purged sent quota alerts",
			slog.Int64("count", n),
		)
	}
	return n, nil
}
