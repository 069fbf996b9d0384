package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/feature"
	"github.com/quotakit/quotakit/pkg/usage"
)

// QuotaReset bundles the ledger re-initialization that must travel in
// the same transaction as a plan change. Init seeds a zeroed counter per
// feature of the new plan; features listed in Preserve keep their
// accumulated counts because they track real resources (connected
// accounts, stored bytes) that survive the plan switch.
type QuotaReset struct {
	Init              []usage.InitRecord
	Preserve          []feature.Code
	StorageQuotaBytes int64
}

// Store is the durable subscription state. Activate and SwapPlan are
// transactional: the subscription mutation, the usage reset, and the
// storage quota snapshot commit or roll back as one unit.
type Store interface {
	// ActiveByUser returns the user's single active subscription or
	// ErrNoActiveSubscription.
	ActiveByUser(ctx context.Context, userID uuid.UUID) (Subscription, error)

	// Activate atomically marks any existing active subscription for
	// sub.UserID as replaced, inserts sub as the new active row, and
	// applies the quota reset.
	Activate(ctx context.Context, sub Subscription, reset QuotaReset) error

	// SwapPlan changes the plan of an existing active subscription in
	// place (upgrade path) and applies the quota reset atomically.
	SwapPlan(ctx context.Context, subID, newPlanID uuid.UUID, reset QuotaReset) error

	// DueForExpiration lists active subscriptions whose end date has
	// passed within the lookback window. Rows older than the window are
	// deliberately skipped so an outage does not trigger a mass
	// reprocessing storm on restart.
	DueForExpiration(ctx context.Context, now time.Time, lookback time.Duration) ([]Subscription, error)

	// MarkExpired transitions a subscription from active to expired.
	// Returns false without error when the row is no longer active,
	// which makes concurrent sweeps self-correcting.
	MarkExpired(ctx context.Context, subID uuid.UUID, now time.Time) (bool, error)

	// ExpiringWithin lists active subscriptions ending in (now, now+d].
	ExpiringWithin(ctx context.Context, now time.Time, d time.Duration) ([]Subscription, error)
}
