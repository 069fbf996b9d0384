// Package quotakit provides subscription and quota accounting primitives for
// metered SaaS products.
//
// QuotaKit tracks what each user is entitled to (plans and per-user overrides),
// how much of each entitlement has been consumed in the current billing window,
// and what should happen when consumption approaches or reaches the limit.
//
// The module is organized as small, composable packages:
//
//   - pkg/plan: plan catalog with per-feature limits, backed by Postgres with
//     an optional Redis read-through cache
//   - pkg/feature: the feature registry, reset cadences, and quota override
//     validation
//   - pkg/period: billing window arithmetic (monthly anchor-day windows,
//     daily UTC windows, subscription-lifetime windows)
//   - pkg/usage: the usage ledger with atomic per-window counters and an
//     append-only event trail
//   - pkg/quota: the enforcement surface (CanPerform, RecordUsage, UsageStats)
//   - pkg/alert: threshold alerts at 80%, 95%, and 100% with per-window
//     deduplication
//   - pkg/subscription: subscription lifecycle (activation, upgrades,
//     expiration sweep, free-plan fallback)
//
// Typical wiring:
//
//	pool, _ := pg.Connect(ctx, pgCfg)
//	catalog := plan.NewPGCatalog(pool)
//	ledger := usage.NewPGLedger(pool)
//	subs := subscription.NewPGStore(pool)
//	alerts := alert.NewEngine(alert.NewPGStore(pool), slog.Default())
//
//	quotas := quota.NewService(subs, catalog, ledger, alerts)
//
//	ok, err := quotas.CanPerform(ctx, userID, feature.ArticlesPerMonth)
//	if err != nil {
//		return err
//	}
//	if !ok {
//		return ErrQuotaExceeded
//	}
//	// ... perform the work ...
//	_ = quotas.RecordUsage(ctx, userID, feature.ArticlesPerMonth, 1)
//
// All stores ship with both a Postgres implementation and an in-memory
// implementation suitable for tests.
package quotakit
