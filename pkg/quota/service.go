package quota

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/alert"
	"github.com/quotakit/quotakit/pkg/feature"
	"github.com/quotakit/quotakit/pkg/notify"
	"github.com/quotakit/quotakit/pkg/period"
	"github.com/quotakit/quotakit/pkg/plan"
	"github.com/quotakit/quotakit/pkg/subscription"
	"github.com/quotakit/quotakit/pkg/usage"
)

// Service answers "can this user perform this action" and records the
// usage that gated actions consume. The answer merges three sources:
// the plan's feature values, the subscription's sparse custom
// overrides, and the ledger's current counter.
type Service interface {
	// CanPerform reports whether the user has quota left for the
	// feature. A user without an active subscription cannot perform
	// anything; that is a false, not an error. The Nth unit of quota
	// allows the Nth action, the (N+1)th is refused.
	CanPerform(ctx context.Context, userID uuid.UUID, code feature.Code) (bool, error)

	// RecordUsage adds amount to the user's counter for the feature's
	// current period, then best-effort evaluates alerts and pushes a
	// notification. Fails with subscription.ErrNoActiveSubscription
	// when the user has no active subscription.
	RecordUsage(ctx context.Context, userID uuid.UUID, code feature.Code, amount int64) error

	// UsageStats returns one row per feature the user's plan (or
	// overrides) defines. Empty for users without an active
	// subscription.
	UsageStats(ctx context.Context, userID uuid.UUID) ([]FeatureUsageStat, error)
}

type service struct {
	subs     subscription.Store
	catalog  plan.Catalog
	ledger   usage.Ledger
	alerts   *alert.Engine
	notifier notify.Notifier
	anomaly  notify.AnomalyDetector
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the quota evaluator. Panics if a required
// dependency is nil to fail fast during initialization.
func NewService(subs subscription.Store, catalog plan.Catalog, ledger usage.Ledger, alerts *alert.Engine, opts ...ServiceOption) Service {
	if subs == nil {
		panic("quota: subscription.Store is required")
	}
	if catalog == nil {
		panic("quota: plan.Catalog is required")
	}
	if ledger == nil {
		panic("quota: usage.Ledger is required")
	}
	if alerts == nil {
		panic("quota: alert.Engine is required")
	}

	s := &service{
		subs:     subs,
		catalog:  catalog,
		ledger:   ledger,
		alerts:   alerts,
		notifier: notify.NoOp{},
		anomaly:  notify.NoOp{},
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CanPerform(ctx context.Context, userID uuid.UUID, code feature.Code) (bool, error) {
	now := s.now()

	sub, p, err := s.resolve(ctx, userID, now)
	if err != nil {
		if errors.Is(err, subscription.ErrNoActiveSubscription) {
			return false, nil
		}
		return false, err
	}

	limit, used, err := s.limitAndUsage(ctx, sub, p, code, now)
	if err != nil {
		if errors.Is(err, ErrFeatureNotInPlan) {
			return false, nil
		}
		return false, err
	}

	if limit == feature.Unlimited {
		return true, nil
	}
	return used < limit, nil
}

func (s *service) RecordUsage(ctx context.Context, userID uuid.UUID, code feature.Code, amount int64) error {
	if amount <= 0 {
		return usage.ErrInvalidAmount
	}

	now := s.now()

	sub, p, err := s.resolve(ctx, userID, now)
	if err != nil {
		return err
	}

	limit, ok := effectiveLimit(sub, p, code)
	if !ok {
		return ErrFeatureNotInPlan
	}

	w := period.Current(feature.CadenceOf(code), sub.QuotaResetAnchor, sub.StartDate, sub.EndDate, now)
	if err := s.ledger.Record(ctx, userID, code, amount, w); err != nil {
		return err
	}

	// Everything below is side-effect plumbing: alert evaluation,
	// push notification, anomaly check. None of it may fail the
	// recorded usage, so failures are logged and swallowed.
	s.afterRecord(ctx, userID, code, limit, w, now)
	return nil
}

func (s *service) afterRecord(ctx context.Context, userID uuid.UUID, code feature.Code, limit int64, w period.Window, now time.Time) {
	used, err := s.currentUsed(ctx, userID, code, now)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to read usage after record",
			slog.String("user_id", userID.String()),
			slog.String("feature_code", string(code)),
			slog.String("error", err.Error()))
		return
	}

	emitted, err := s.alerts.Evaluate(ctx, userID, code, used, limit, w.Start)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "alert evaluation failed",
			slog.String("user_id", userID.String()),
			slog.String("feature_code", string(code)),
			slog.String("error", err.Error()))
	}
	for _, a := range emitted {
		s.notifyBestEffort(ctx, userID, notify.EventQuotaAlert, map[string]any{
			"feature_code":         a.FeatureCode,
			"alert_type":           a.Type,
			"threshold_percentage": a.ThresholdPercentage,
			"current_usage":        a.CurrentUsage,
			"quota_limit":          a.QuotaLimit,
		})
	}

	s.notifyBestEffort(ctx, userID, notify.EventQuotaUpdated, map[string]any{
		"feature_code": code,
		"used":         used,
		"limit":        limit,
	})

	if err := s.anomaly.CheckUsageAnomaly(ctx, userID, string(code), used); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "anomaly check failed",
			slog.String("user_id", userID.String()),
			slog.String("feature_code", string(code)),
			slog.String("error", err.Error()))
	}
}

func (s *service) UsageStats(ctx context.Context, userID uuid.UUID) ([]FeatureUsageStat, error) {
	now := s.now()

	sub, p, err := s.resolve(ctx, userID, now)
	if err != nil {
		if errors.Is(err, subscription.ErrNoActiveSubscription) {
			return []FeatureUsageStat{}, nil
		}
		return nil, err
	}

	codes := statCodes(sub, p)

	stats := make([]FeatureUsageStat, 0, len(codes))
	for _, code := range codes {
		limit, used, err := s.limitAndUsage(ctx, sub, p, code, now)
		if err != nil {
			return nil, err
		}

		cadence := feature.CadenceOf(code)
		stat := FeatureUsageStat{
			FeatureCode:   code,
			Limit:         limit,
			Used:          used,
			ResetPeriod:   cadence,
			NextResetTime: period.NextReset(cadence, sub.QuotaResetAnchor, sub.StartDate, sub.EndDate, now),
		}
		if limit == feature.Unlimited {
			stat.Remaining = feature.Unlimited
			stat.Percentage = 0
		} else {
			stat.Remaining = max(0, limit-used)
			if limit > 0 {
				stat.Percentage = min(100, float64(used)*100/float64(limit))
			} else {
				stat.Percentage = 100
			}
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

func (s *service) resolve(ctx context.Context, userID uuid.UUID, now time.Time) (subscription.Subscription, plan.Plan, error) {
	sub, err := s.subs.ActiveByUser(ctx, userID)
	if err != nil {
		return subscription.Subscription{}, plan.Plan{}, err
	}
	if !sub.IsActive(now) {
		// Past its end date but not yet swept: grants nothing.
		return subscription.Subscription{}, plan.Plan{}, subscription.ErrNoActiveSubscription
	}

	p, err := s.catalog.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return subscription.Subscription{}, plan.Plan{}, errors.Join(ErrFailedToEvaluateQuota, err)
	}
	return sub, p, nil
}

// limitAndUsage resolves the effective limit and current usage for one
// feature. storage_space is special-cased: "used" comes from the byte
// accounting table converted to MB, and any purchased add-on is folded
// into the limit before the unlimited check.
func (s *service) limitAndUsage(ctx context.Context, sub subscription.Subscription, p plan.Plan, code feature.Code, now time.Time) (limit, used int64, err error) {
	limit, ok := effectiveLimit(sub, p, code)
	if !ok {
		return 0, 0, ErrFeatureNotInPlan
	}

	if code == feature.StorageSpace {
		su, err := s.ledger.StorageUsage(ctx, sub.UserID)
		if err != nil {
			return 0, 0, err
		}
		return limit + su.PurchasedMB(), su.UsedMB(), nil
	}

	used, err = s.currentUsed(ctx, sub.UserID, code, now)
	if err != nil {
		return 0, 0, err
	}
	return limit, used, nil
}

func (s *service) currentUsed(ctx context.Context, userID uuid.UUID, code feature.Code, now time.Time) (int64, error) {
	if code == feature.StorageSpace {
		su, err := s.ledger.StorageUsage(ctx, userID)
		if err != nil {
			return 0, err
		}
		return su.UsedMB(), nil
	}
	return s.ledger.CurrentUsage(ctx, userID, code, now)
}

func effectiveLimit(sub subscription.Subscription, p plan.Plan, code feature.Code) (int64, bool) {
	v, ok := p.Quota(code)
	return sub.QuotaFor(code, v, ok)
}

// statCodes returns the union of plan features and custom overrides in
// a stable order.
func statCodes(sub subscription.Subscription, p plan.Plan) []feature.Code {
	seen := make(map[feature.Code]bool, len(p.Features))
	codes := make([]feature.Code, 0, len(p.Features)+len(sub.CustomQuotas))
	for code := range p.Features {
		seen[code] = true
		codes = append(codes, code)
	}
	for code := range sub.CustomQuotas {
		if !seen[code] {
			codes = append(codes, code)
		}
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

func (s *service) notifyBestEffort(ctx context.Context, userID uuid.UUID, event string, payload any) {
	if err := s.notifier.Notify(ctx, userID, event, payload); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "notification delivery failed",
			slog.String("user_id", userID.String()),
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
