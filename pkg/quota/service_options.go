package quota

import (
	"log/slog"
	"time"

	"github.com/quotakit/quotakit/pkg/notify"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithNotifier sets the push channel for quota events. Delivery is
// best-effort and never fails the operation that triggered it.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithAnomalyDetector sets the hook invoked after each recorded usage.
func WithAnomalyDetector(d notify.AnomalyDetector) ServiceOption {
	return func(s *service) {
		if d != nil {
			s.anomaly = d
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
