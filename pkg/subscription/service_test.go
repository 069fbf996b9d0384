package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotakit/quotakit/pkg/feature"
	"github.com/quotakit/quotakit/pkg/notify"
	"github.com/quotakit/quotakit/pkg/period"
	"github.com/quotakit/quotakit/pkg/plan"
	"github.com/quotakit/quotakit/pkg/subscription"
	"github.com/quotakit/quotakit/pkg/usage"
)

var (
	freePlanID = uuid.New()
	proPlanID  = uuid.New()
	entPlanID  = uuid.New()
)

func testCatalog() plan.Catalog {
	return plan.NewMemCatalog(map[string]plan.Plan{
		"free": {
			ID:           freePlanID,
			Code:         "free",
			Name:         "Free",
			Price:        0,
			BillingCycle: plan.CycleNone,
			Active:       true,
			Features: map[feature.Code]int64{
				feature.ArticlesPerMonth: 10,
				feature.PublishPerMonth:  5,
				feature.PlatformAccounts: 1,
				feature.StorageSpace:     100,
			},
		},
		"professional": {
			ID:           proPlanID,
			Code:         "professional",
			Name:         "Professional",
			Price:        9900,
			BillingCycle: plan.CycleMonthly,
			Active:       true,
			Features: map[feature.Code]int64{
				feature.ArticlesPerMonth:    100,
				feature.PublishPerMonth:     50,
				feature.PlatformAccounts:    5,
				feature.KeywordDistillation: 20,
				feature.StorageSpace:        1024,
			},
		},
		"enterprise": {
			ID:           entPlanID,
			Code:         "enterprise",
			Name:         "Enterprise",
			Price:        29900,
			BillingCycle: plan.CycleMonthly,
			Active:       true,
			Features: map[feature.Code]int64{
				feature.ArticlesPerMonth:    feature.Unlimited,
				feature.PublishPerMonth:     500,
				feature.PlatformAccounts:    50,
				feature.KeywordDistillation: 200,
				feature.StorageSpace:        10240,
			},
		},
	})
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestActivate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

	t.Run("creates active subscription with plan duration", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemStore(nil)
		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(now)))
		userID := uuid.New()

		sub, err := svc.Activate(ctx, userID, proPlanID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, proPlanID, sub.PlanID)
		assert.Equal(t, now, sub.StartDate)
		assert.Equal(t, now.AddDate(0, 0, 30), sub.EndDate, "monthly cycle defaults to 30 days")
		assert.Equal(t, now, sub.QuotaResetAnchor)
	})

	t.Run("explicit duration wins over plan default", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemStore(nil)
		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(now)))

		sub, err := svc.Activate(ctx, uuid.New(), proPlanID, subscription.WithDuration(90))
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, 90), sub.EndDate)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemStore(nil)
		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(now)))

		_, err := svc.Activate(ctx, uuid.New(), uuid.New())
		assert.ErrorIs(t, err, plan.ErrPlanNotFound)
	})

	t.Run("rejects invalid custom quotas", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemStore(nil)
		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(now)))

		_, err := svc.Activate(ctx, uuid.New(), proPlanID,
			subscription.WithCustomQuotas(map[feature.Code]int64{"bogus_feature": 5}))
		assert.ErrorIs(t, err, subscription.ErrInvalidQuotaOverride)
	})

	t.Run("second activation replaces the first", func(t *testing.T) {
		t.Parallel()

		ledger := usage.NewMemLedger()
		store := subscription.NewMemStore(ledger)
		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(now)))
		userID := uuid.New()

		first, err := svc.Activate(ctx, userID, proPlanID)
		require.NoError(t, err)

		// Burn some quota under the first plan.
		w := period.Current(feature.CadenceMonthly, first.StartDate, first.StartDate, first.EndDate, now)
		require.NoError(t, ledger.Record(ctx, userID, feature.ArticlesPerMonth, 42, w))

		second, err := svc.Activate(ctx, userID, entPlanID)
		require.NoError(t, err)

		assert.Equal(t, 1, store.CountByStatus(userID, subscription.StatusActive))
		assert.Equal(t, 1, store.CountByStatus(userID, subscription.StatusReplaced))

		got, ok := store.ByID(first.ID)
		require.True(t, ok)
		assert.Equal(t, subscription.StatusReplaced, got.Status)

		active, err := store.ActiveByUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)

		// Counters were reset under the new plan's feature set.
		count, err := ledger.CurrentUsage(ctx, userID, feature.ArticlesPerMonth, now)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("platform accounts survive plan change", func(t *testing.T) {
		t.Parallel()

		ledger := usage.NewMemLedger()
		store := subscription.NewMemStore(ledger)
		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(now)))
		userID := uuid.New()

		first, err := svc.Activate(ctx, userID, proPlanID)
		require.NoError(t, err)

		w := period.Current(feature.CadenceLifetime, first.StartDate, first.StartDate, first.EndDate, now)
		require.NoError(t, ledger.Record(ctx, userID, feature.PlatformAccounts, 3, w))

		_, err = svc.Activate(ctx, userID, entPlanID)
		require.NoError(t, err)

		count, err := ledger.CurrentUsage(ctx, userID, feature.PlatformAccounts, now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count, "connected accounts are real resources, not period counters")
	})
}

func TestEnsureFreePlan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

	t.Run("bootstraps free subscription", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemStore(nil)
		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(now)))
		userID := uuid.New()

		sub, err := svc.EnsureFreePlan(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, freePlanID, sub.PlanID)
		assert.Equal(t, now.AddDate(0, 0, 36500), sub.EndDate, "free plan is near-perpetual")
	})

	t.Run("existing subscription is left alone", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemStore(nil)
		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(now)))
		userID := uuid.New()

		paid, err := svc.Activate(ctx, userID, proPlanID)
		require.NoError(t, err)

		got, err := svc.EnsureFreePlan(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, paid.ID, got.ID)
	})
}

func TestUpgradePlan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

	newSvc := func(t *testing.T, ledger *usage.MemLedger) (subscription.Service, *subscription.MemStore) {
		t.Helper()
		store := subscription.NewMemStore(ledger)
		return subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(now))), store
	}

	t.Run("quotes pro-rated difference for remaining days", func(t *testing.T) {
		t.Parallel()

		svc, _ := newSvc(t, nil)
		userID := uuid.New()

		_, err := svc.Activate(ctx, userID, proPlanID, subscription.WithDuration(30))
		require.NoError(t, err)

		quote, err := svc.UpgradePlan(ctx, userID, entPlanID)
		require.NoError(t, err)
		// 30 remaining days at (29900-9900)/30 per day.
		assert.Equal(t, int64(20000), quote.AmountDue)
		assert.NotEmpty(t, quote.OrderRef)
	})

	t.Run("downgrade by price is rejected", func(t *testing.T) {
		t.Parallel()

		svc, _ := newSvc(t, nil)
		userID := uuid.New()

		_, err := svc.Activate(ctx, userID, entPlanID)
		require.NoError(t, err)

		_, err = svc.UpgradePlan(ctx, userID, proPlanID)
		assert.ErrorIs(t, err, subscription.ErrUpgradeNotAllowed)
	})

	t.Run("no active subscription", func(t *testing.T) {
		t.Parallel()

		svc, _ := newSvc(t, nil)
		_, err := svc.UpgradePlan(ctx, uuid.New(), entPlanID)
		assert.ErrorIs(t, err, subscription.ErrNoActiveSubscription)
	})

	t.Run("apply swaps plan in place and resets usage", func(t *testing.T) {
		t.Parallel()

		ledger := usage.NewMemLedger()
		svc, store := newSvc(t, ledger)
		userID := uuid.New()

		sub, err := svc.Activate(ctx, userID, proPlanID)
		require.NoError(t, err)

		w := period.Current(feature.CadenceMonthly, sub.StartDate, sub.StartDate, sub.EndDate, now)
		require.NoError(t, ledger.Record(ctx, userID, feature.ArticlesPerMonth, 42, w))

		require.NoError(t, svc.ApplyUpgrade(ctx, userID, entPlanID))

		active, err := store.ActiveByUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, active.ID, "same row, not a replacement")
		assert.Equal(t, entPlanID, active.PlanID)

		count, err := ledger.CurrentUsage(ctx, userID, feature.ArticlesPerMonth, now)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestProcessExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("expired subscription downgrades to free", func(t *testing.T) {
		t.Parallel()

		start := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
		store := subscription.NewMemStore(nil)

		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(start)))
		userID := uuid.New()
		paid, err := svc.Activate(ctx, userID, proPlanID, subscription.WithDuration(30))
		require.NoError(t, err)

		// Two hours past the end date.
		later := paid.EndDate.Add(2 * time.Hour)
		svc = subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(later)))

		processed, err := svc.ProcessExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, processed)

		expired, ok := store.ByID(paid.ID)
		require.True(t, ok)
		assert.Equal(t, subscription.StatusExpired, expired.Status)

		active, err := store.ActiveByUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, freePlanID, active.PlanID)
	})

	t.Run("second sweep is a no-op", func(t *testing.T) {
		t.Parallel()

		start := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
		store := subscription.NewMemStore(nil)

		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(start)))
		userID := uuid.New()
		paid, err := svc.Activate(ctx, userID, proPlanID, subscription.WithDuration(30))
		require.NoError(t, err)

		later := paid.EndDate.Add(time.Hour)
		svc = subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(later)))

		processed, err := svc.ProcessExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, processed)

		processed, err = svc.ProcessExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, processed, "exactly one free-plan activation, not two")
		assert.Equal(t, 1, store.CountByStatus(userID, subscription.StatusActive))
	})

	t.Run("rows past the lookback window are skipped", func(t *testing.T) {
		t.Parallel()

		start := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
		store := subscription.NewMemStore(nil)

		svc := subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(start)))
		userID := uuid.New()
		paid, err := svc.Activate(ctx, userID, proPlanID, subscription.WithDuration(30))
		require.NoError(t, err)

		// Three days past the end date, outside the 24h lookback.
		muchLater := paid.EndDate.Add(72 * time.Hour)
		svc = subscription.NewService(store, testCatalog(), subscription.WithClock(fixedClock(muchLater)))

		processed, err := svc.ProcessExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, processed)
	})
}

func TestExpirationReminders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	store := subscription.NewMemStore(nil)
	recorder := &recordingNotifier{}
	svc := subscription.NewService(store, testCatalog(),
		subscription.WithClock(fixedClock(now)),
		subscription.WithNotifier(recorder))

	// Ends in exactly 3 days: reminder due.
	userA := uuid.New()
	_, err := svc.Activate(ctx, userA, proPlanID, subscription.WithDuration(3))
	require.NoError(t, err)

	// Ends in 5 days: inside the window but not a reminder day.
	userB := uuid.New()
	_, err = svc.Activate(ctx, userB, proPlanID, subscription.WithDuration(5))
	require.NoError(t, err)

	// Ends in 20 days: outside the window entirely.
	userC := uuid.New()
	_, err = svc.Activate(ctx, userC, proPlanID, subscription.WithDuration(20))
	require.NoError(t, err)

	expiring, err := svc.ExpiringSubscriptions(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, expiring, 2)

	sent, err := svc.SendExpirationReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, recorder.count(userA, notify.EventSubscriptionExpiring))
	assert.Zero(t, recorder.count(userB, notify.EventSubscriptionExpiring))
	assert.Zero(t, recorder.count(userC, notify.EventSubscriptionExpiring))
}

type notifiedEvent struct {
	userID uuid.UUID
	event  string
}

// recordingNotifier captures delivered events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notifiedEvent
}

func (r *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, event string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, notifiedEvent{userID: userID, event: event})
	return nil
}

func (r *recordingNotifier) count(userID uuid.UUID, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.userID == userID && e.event == event {
			n++
		}
	}
	return n
}
