package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Well-known event names pushed to clients.
const (
	EventQuotaUpdated         = "quota_updated"
	EventQuotaAlert           = "quota_alert"
	EventSubscriptionUpdated  = "subscription_updated"
	EventSubscriptionExpired  = "subscription_expired"
	EventSubscriptionExpiring = "subscription_expiring_soon"
)

// Notifier is the push channel capability consumed by the quota engine.
// Delivery is best-effort: callers log and swallow errors, and a failed
// notification never rolls back the operation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, payload any) error
}

// AnomalyDetector is invoked after each usage record so an external
// system can flag suspicious consumption patterns. Best-effort, like
// Notifier.
type AnomalyDetector interface {
	CheckUsageAnomaly(ctx context.Context, userID uuid.UUID, featureCode string, newUsage int64) error
}

// NoOp satisfies both capabilities and does nothing. Useful in tests and
// when no push channel is configured.
type NoOp struct{}

func (NoOp) Notify(context.Context, uuid.UUID, string, any) error { return nil }

func (NoOp) CheckUsageAnomaly(context.Context, uuid.UUID, string, int64) error { return nil }

// LogNotifier writes every event to a structured logger. Handy as a
// development stand-in for the real push channel.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID uuid.UUID, event string, payload any) error {
	n.logger.LogAttrs(ctx, slog.LevelInfo, "notification",
		slog.String("user_id", userID.String()),
		slog.String("event", event),
		slog.Any("payload", payload),
	)
	return nil
}
