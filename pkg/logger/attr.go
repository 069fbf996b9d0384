package logger

import (
	"log/slog"

	"github.com/google/uuid"
)

// Error creates an attribute for a single error under the key "error".
// Nil errors yield an empty Attr that slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the acting user under the key "user_id".
func UserID(id uuid.UUID) slog.Attr {
	return slog.String("user_id", id.String())
}

// FeatureCode records the gated feature under the key "feature_code".
func FeatureCode(code string) slog.Attr {
	return slog.String("feature_code", code)
}

// PlanCode records the plan under the key "plan_code".
func PlanCode(code string) slog.Attr {
	return slog.String("plan_code", code)
}

// SubscriptionID records the subscription under the key "subscription_id".
func SubscriptionID(id uuid.UUID) slog.Attr {
	return slog.String("subscription_id", id.String())
}
