package subscription

import (
	"log/slog"
	"time"

	"github.com/quotakit/quotakit/pkg/feature"
	"github.com/quotakit/quotakit/pkg/notify"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithNotifier sets the notification channel for lifecycle events.
// Delivery is best-effort; failures are logged and never block a
// state transition.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source. Tests use this to pin "now".
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFreePlanCode sets the plan code expired users are downgraded to.
// Defaults to "free".
func WithFreePlanCode(code string) ServiceOption {
	return func(s *service) {
		if code != "" {
			s.freePlanCode = code
		}
	}
}

// WithExpirationLookback sets how far past their end date expired rows
// are still picked up by the sweep. Rows older than this are left
// alone to avoid a reprocessing storm after an outage. Defaults to 24h.
func WithExpirationLookback(d time.Duration) ServiceOption {
	return func(s *service) {
		if d > 0 {
			s.lookback = d
		}
	}
}

type activateParams struct {
	durationDays int
	customQuotas map[feature.Code]int64
}

// ActivateOption configures a single activation.
type ActivateOption func(*activateParams)

// WithDuration overrides the plan's configured subscription length.
func WithDuration(days int) ActivateOption {
	return func(p *activateParams) {
		p.durationDays = days
	}
}

// WithCustomQuotas attaches per-user quota overrides to the new
// subscription. Overrides supersede the plan's values for the listed
// features only.
func WithCustomQuotas(overrides map[feature.Code]int64) ActivateOption {
	return func(p *activateParams) {
		p.customQuotas = overrides
	}
}
