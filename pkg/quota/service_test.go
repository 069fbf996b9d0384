package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotakit/quotakit/pkg/alert"
	"github.com/quotakit/quotakit/pkg/feature"
	"github.com/quotakit/quotakit/pkg/notify"
	"github.com/quotakit/quotakit/pkg/plan"
	"github.com/quotakit/quotakit/pkg/quota"
	"github.com/quotakit/quotakit/pkg/subscription"
	"github.com/quotakit/quotakit/pkg/usage"
)

var proPlanID = uuid.New()

func testCatalog() plan.Catalog {
	return plan.NewMemCatalog(map[string]plan.Plan{
		"professional": {
			ID:           proPlanID,
			Code:         "professional",
			Name:         "Professional",
			Price:        9900,
			BillingCycle: plan.CycleMonthly,
			Active:       true,
			Features: map[feature.Code]int64{
				feature.ArticlesPerMonth:    50,
				feature.PublishPerMonth:     100,
				feature.KeywordDistillation: 30,
				feature.PlatformAccounts:    feature.Unlimited,
				feature.StorageSpace:        1024,
			},
		},
	})
}

type fixture struct {
	svc    quota.Service
	ledger *usage.MemLedger
	subs   *subscription.MemStore
	alerts *alert.MemStore
	now    time.Time
}

func newFixture(t *testing.T, opts ...quota.ServiceOption) *fixture {
	t.Helper()

	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	ledger := usage.NewMemLedger()
	subs := subscription.NewMemStore(ledger)
	alerts := alert.NewMemStore()
	engine := alert.NewEngine(alerts, nil)

	opts = append([]quota.ServiceOption{quota.WithClock(func() time.Time { return now })}, opts...)
	return &fixture{
		svc:    quota.NewService(subs, testCatalog(), ledger, engine, opts...),
		ledger: ledger,
		subs:   subs,
		alerts: alerts,
		now:    now,
	}
}

// subscribe activates the professional plan via the lifecycle service so
// the fixture's stores see the same transactional reset as production.
func (f *fixture) subscribe(t *testing.T, userID uuid.UUID, opts ...subscription.ActivateOption) subscription.Subscription {
	t.Helper()

	lifecycle := subscription.NewService(f.subs, testCatalog(),
		subscription.WithClock(func() time.Time { return f.now }))
	sub, err := lifecycle.Activate(context.Background(), userID, proPlanID, opts...)
	require.NoError(t, err)
	return sub
}

func TestCanPerform(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("no active subscription is false not an error", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		ok, err := f.svc.CanPerform(ctx, uuid.New(), feature.ArticlesPerMonth)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unsupported feature is false", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		f.subscribe(t, userID)

		ok, err := f.svc.CanPerform(ctx, userID, "unknown_feature")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unlimited is always true", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		f.subscribe(t, userID)

		ok, err := f.svc.CanPerform(ctx, userID, feature.PlatformAccounts)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("custom override supersedes plan value", func(t *testing.T) {
		t.Parallel()

		// Plan allows 50 articles, the override allows 10.
		f := newFixture(t)
		userID := uuid.New()
		f.subscribe(t, userID, subscription.WithCustomQuotas(map[feature.Code]int64{
			feature.ArticlesPerMonth: 10,
		}))

		for i := 0; i < 10; i++ {
			ok, err := f.svc.CanPerform(ctx, userID, feature.ArticlesPerMonth)
			require.NoError(t, err)
			require.True(t, ok, "action %d should be allowed", i+1)
			require.NoError(t, f.svc.RecordUsage(ctx, userID, feature.ArticlesPerMonth, 1))
		}

		ok, err := f.svc.CanPerform(ctx, userID, feature.ArticlesPerMonth)
		require.NoError(t, err)
		assert.False(t, ok, "11th action must be refused")
	})

	t.Run("strict limit boundary", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		f.subscribe(t, userID)

		require.NoError(t, f.svc.RecordUsage(ctx, userID, feature.KeywordDistillation, 29))
		ok, err := f.svc.CanPerform(ctx, userID, feature.KeywordDistillation)
		require.NoError(t, err)
		assert.True(t, ok, "29 of 30 used")

		require.NoError(t, f.svc.RecordUsage(ctx, userID, feature.KeywordDistillation, 1))
		ok, err = f.svc.CanPerform(ctx, userID, feature.KeywordDistillation)
		require.NoError(t, err)
		assert.False(t, ok, "30 of 30 used")
	})
}

func TestRecordUsage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("fails without active subscription", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		err := f.svc.RecordUsage(ctx, uuid.New(), feature.ArticlesPerMonth, 1)
		assert.ErrorIs(t, err, subscription.ErrNoActiveSubscription)
	})

	t.Run("fails for feature outside the plan", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		f.subscribe(t, userID)

		err := f.svc.RecordUsage(ctx, userID, "unknown_feature", 1)
		assert.ErrorIs(t, err, quota.ErrFeatureNotInPlan)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		err := f.svc.RecordUsage(ctx, uuid.New(), feature.ArticlesPerMonth, 0)
		assert.ErrorIs(t, err, usage.ErrInvalidAmount)
	})

	t.Run("crossing 80 percent emits exactly one warning", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		f.subscribe(t, userID)

		// 40 of 50: exactly 80%.
		require.NoError(t, f.svc.RecordUsage(ctx, userID, feature.ArticlesPerMonth, 40))

		unsent, err := f.alerts.Unsent(ctx, userID)
		require.NoError(t, err)
		require.Len(t, unsent, 1)
		assert.Equal(t, alert.TypeWarning, unsent[0].Type)

		// 41..47 of 50: still inside the warning band, no new alert.
		for i := 0; i < 7; i++ {
			require.NoError(t, f.svc.RecordUsage(ctx, userID, feature.ArticlesPerMonth, 1))
		}
		unsent, err = f.alerts.Unsent(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, unsent, 1)
	})

	t.Run("notifier failure does not fail the record", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, quota.WithNotifier(failingNotifier{}))
		userID := uuid.New()
		f.subscribe(t, userID)

		require.NoError(t, f.svc.RecordUsage(ctx, userID, feature.ArticlesPerMonth, 1))

		used, err := f.ledger.CurrentUsage(ctx, userID, feature.ArticlesPerMonth, f.now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), used)
	})
}

func TestUsageStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty without active subscription", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		stats, err := f.svc.UsageStats(ctx, uuid.New())
		require.NoError(t, err)
		assert.Empty(t, stats)
	})

	t.Run("reports per-feature usage with reset times", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		f.subscribe(t, userID)

		require.NoError(t, f.svc.RecordUsage(ctx, userID, feature.ArticlesPerMonth, 25))

		stats, err := f.svc.UsageStats(ctx, userID)
		require.NoError(t, err)
		require.Len(t, stats, 5)

		byCode := make(map[feature.Code]quota.FeatureUsageStat, len(stats))
		for _, st := range stats {
			byCode[st.FeatureCode] = st
		}

		articles := byCode[feature.ArticlesPerMonth]
		assert.Equal(t, int64(50), articles.Limit)
		assert.Equal(t, int64(25), articles.Used)
		assert.Equal(t, int64(25), articles.Remaining)
		assert.InDelta(t, 50.0, articles.Percentage, 0.01)
		assert.Equal(t, feature.CadenceMonthly, articles.ResetPeriod)
		require.NotNil(t, articles.NextResetTime)
		assert.True(t, articles.NextResetTime.After(f.now))

		accounts := byCode[feature.PlatformAccounts]
		assert.Equal(t, feature.Unlimited, accounts.Limit)
		assert.Equal(t, feature.Unlimited, accounts.Remaining)
		assert.Zero(t, accounts.Percentage)
		assert.Nil(t, accounts.NextResetTime, "lifetime features never reset")
	})

	t.Run("percentage caps at 100", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		// Override below what we are about to record.
		f.subscribe(t, userID, subscription.WithCustomQuotas(map[feature.Code]int64{
			feature.ArticlesPerMonth: 10,
		}))

		require.NoError(t, f.svc.RecordUsage(ctx, userID, feature.ArticlesPerMonth, 10))
		require.NoError(t, f.svc.RecordUsage(ctx, userID, feature.ArticlesPerMonth, 5))

		stats, err := f.svc.UsageStats(ctx, userID)
		require.NoError(t, err)
		for _, st := range stats {
			if st.FeatureCode == feature.ArticlesPerMonth {
				assert.Equal(t, int64(15), st.Used)
				assert.Zero(t, st.Remaining)
				assert.InDelta(t, 100.0, st.Percentage, 0.01)
			}
		}
	})
}

func TestStorageSpace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("usage sourced from byte accounting", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		f.subscribe(t, userID)

		// 600 MB of the plan's 1024 MB.
		f.ledger.SetStorageUsage(usage.StorageUsage{
			UserID:     userID,
			ImageBytes: 600 * 1024 * 1024,
			QuotaBytes: 1024 * 1024 * 1024,
		})

		ok, err := f.svc.CanPerform(ctx, userID, feature.StorageSpace)
		require.NoError(t, err)
		assert.True(t, ok)

		stats, err := f.svc.UsageStats(ctx, userID)
		require.NoError(t, err)
		for _, st := range stats {
			if st.FeatureCode == feature.StorageSpace {
				assert.Equal(t, int64(600), st.Used)
				assert.Equal(t, int64(1024), st.Limit)
			}
		}
	})

	t.Run("full storage refuses writes", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		f.subscribe(t, userID)

		f.ledger.SetStorageUsage(usage.StorageUsage{
			UserID:     userID,
			ImageBytes: 1024 * 1024 * 1024,
			QuotaBytes: 1024 * 1024 * 1024,
		})

		ok, err := f.svc.CanPerform(ctx, userID, feature.StorageSpace)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("purchased add-on extends the limit", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		userID := uuid.New()
		f.subscribe(t, userID)

		// Full plan quota plus a 512 MB purchased add-on.
		f.ledger.SetStorageUsage(usage.StorageUsage{
			UserID:         userID,
			ImageBytes:     1024 * 1024 * 1024,
			QuotaBytes:     1024 * 1024 * 1024,
			PurchasedBytes: 512 * 1024 * 1024,
		})

		ok, err := f.svc.CanPerform(ctx, userID, feature.StorageSpace)
		require.NoError(t, err)
		assert.True(t, ok)

		stats, err := f.svc.UsageStats(ctx, userID)
		require.NoError(t, err)
		for _, st := range stats {
			if st.FeatureCode == feature.StorageSpace {
				assert.Equal(t, int64(1536), st.Limit)
				assert.Equal(t, int64(512), st.Remaining)
			}
		}
	})
}

func TestDailyCadenceIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// keyword_distillation resets daily: usage recorded yesterday must
	// not count against today's window.
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	ledger := usage.NewMemLedger()
	subs := subscription.NewMemStore(ledger)
	engine := alert.NewEngine(alert.NewMemStore(), nil)

	clock := now.AddDate(0, 0, -1) // yesterday
	current := &clock

	svc := quota.NewService(subs, testCatalog(), ledger, engine,
		quota.WithClock(func() time.Time { return *current }))

	lifecycle := subscription.NewService(subs, testCatalog(),
		subscription.WithClock(func() time.Time { return *current }))
	userID := uuid.New()
	_, err := lifecycle.Activate(ctx, userID, proPlanID)
	require.NoError(t, err)

	require.NoError(t, svc.RecordUsage(ctx, userID, feature.KeywordDistillation, 30))

	ok, err := svc.CanPerform(ctx, userID, feature.KeywordDistillation)
	require.NoError(t, err)
	require.False(t, ok, "yesterday's quota is exhausted")

	*current = now // next day

	ok, err = svc.CanPerform(ctx, userID, feature.KeywordDistillation)
	require.NoError(t, err)
	assert.True(t, ok, "fresh daily window")

	used, err := ledger.CurrentUsage(ctx, userID, feature.KeywordDistillation, now)
	require.NoError(t, err)
	assert.Zero(t, used)
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, uuid.UUID, string, any) error {
	return assert.AnError
}

var _ notify.Notifier = failingNotifier{}
