package subscription

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/feature"
	"github.com/quotakit/quotakit/pkg/notify"
	"github.com/quotakit/quotakit/pkg/period"
	"github.com/quotakit/quotakit/pkg/plan"
	"github.com/quotakit/quotakit/pkg/usage"
)

// UpgradeQuote is the pro-rated amount a user owes to upgrade for the
// remainder of their current subscription, plus an order reference the
// payment flow carries until ApplyUpgrade is called.
type UpgradeQuote struct {
	OrderRef  string
	AmountDue int64
}

// Service owns subscription state transitions: activation, upgrade, and
// expiration-driven downgrade to the free plan.
type Service interface {
	// Activate starts a new subscription for the user, atomically
	// replacing any existing active one and resetting usage counters
	// for the new plan's feature set.
	Activate(ctx context.Context, userID, planID uuid.UUID, opts ...ActivateOption) (Subscription, error)

	// EnsureFreePlan activates the free plan for users without any
	// active subscription. Returns the existing subscription unchanged
	// when one is already active.
	EnsureFreePlan(ctx context.Context, userID uuid.UUID) (Subscription, error)

	// UpgradePlan quotes the pro-rated charge for switching to a higher
	// priced plan. It mutates nothing; ApplyUpgrade performs the switch
	// once payment is confirmed.
	UpgradePlan(ctx context.Context, userID, newPlanID uuid.UUID) (UpgradeQuote, error)

	// ApplyUpgrade swaps the active subscription's plan in place and
	// resets usage. Immediate and quota-resetting, not carry-forward.
	ApplyUpgrade(ctx context.Context, userID, newPlanID uuid.UUID) error

	// ProcessExpired finds active subscriptions past their end date,
	// marks them expired, and downgrades each user to the free plan.
	// Safe to run concurrently from multiple instances.
	ProcessExpired(ctx context.Context) (int, error)

	// ExpiringSubscriptions lists active subscriptions ending within
	// the given number of days.
	ExpiringSubscriptions(ctx context.Context, days int) ([]Subscription, error)

	// SendExpirationReminders notifies users whose subscriptions end in
	// exactly 7, 3, or 1 days. Best-effort; delivery failures are
	// logged, not returned.
	SendExpirationReminders(ctx context.Context) (int, error)
}

type service struct {
	store        Store
	catalog      plan.Catalog
	notifier     notify.Notifier
	logger       *slog.Logger
	now          func() time.Time
	freePlanCode string
	lookback     time.Duration
}

// NewService creates the lifecycle manager. Panics if store or catalog
// is nil to fail fast during initialization.
func NewService(store Store, catalog plan.Catalog, opts ...ServiceOption) Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if catalog == nil {
		panic("subscription: plan.Catalog is required")
	}

	s := &service{
		store:        store,
		catalog:      catalog,
		notifier:     notify.NoOp{},
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		freePlanCode: "free",
		lookback:     24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Activate(ctx context.Context, userID, planID uuid.UUID, opts ...ActivateOption) (Subscription, error) {
	p, err := s.catalog.GetPlanByID(ctx, planID)
	if err != nil {
		return Subscription{}, err
	}
	if !p.Active {
		return Subscription{}, plan.ErrPlanInactive
	}

	var params activateParams
	for _, opt := range opts {
		opt(&params)
	}

	if bad := feature.ValidateOverrides(params.customQuotas); len(bad) > 0 {
		return Subscription{}, ErrInvalidQuotaOverride
	}

	days := params.durationDays
	if days <= 0 {
		days = p.Duration()
	}

	now := s.now()
	sub := Subscription{
		ID:               uuid.New(),
		UserID:           userID,
		PlanID:           p.ID,
		Status:           StatusActive,
		StartDate:        now,
		EndDate:          now.AddDate(0, 0, days),
		CustomQuotas:     params.customQuotas,
		QuotaResetAnchor: now,
		QuotaCycleType:   string(p.BillingCycle),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Activate(ctx, sub, s.quotaReset(p, sub, now)); err != nil {
		return Subscription{}, err
	}

	s.notifyBestEffort(ctx, userID, notify.EventSubscriptionUpdated, map[string]any{
		"plan_code": p.Code,
		"plan_name": p.Name,
		"end_date":  sub.EndDate,
	})
	return sub, nil
}

func (s *service) EnsureFreePlan(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	existing, err := s.store.ActiveByUser(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNoActiveSubscription) {
		return Subscription{}, err
	}

	free, err := s.catalog.GetPlan(ctx, s.freePlanCode)
	if err != nil {
		return Subscription{}, err
	}
	return s.Activate(ctx, userID, free.ID)
}

func (s *service) UpgradePlan(ctx context.Context, userID, newPlanID uuid.UUID) (UpgradeQuote, error) {
	cur, err := s.store.ActiveByUser(ctx, userID)
	if err != nil {
		return UpgradeQuote{}, err
	}

	curPlan, err := s.catalog.GetPlanByID(ctx, cur.PlanID)
	if err != nil {
		return UpgradeQuote{}, err
	}
	newPlan, err := s.catalog.GetPlanByID(ctx, newPlanID)
	if err != nil {
		return UpgradeQuote{}, err
	}

	if newPlan.Price <= curPlan.Price {
		return UpgradeQuote{}, ErrUpgradeNotAllowed
	}

	now := s.now()
	// Pro-ration uses a nominal 30-day month regardless of billing
	// cycle, matching the billing flow's expectations.
	days := int64(cur.DaysRemaining(now))
	amountDue := (newPlan.Price - curPlan.Price) * days / 30
	if amountDue < 0 {
		amountDue = 0
	}

	return UpgradeQuote{
		OrderRef:  upgradeOrderRef(now),
		AmountDue: amountDue,
	}, nil
}

func (s *service) ApplyUpgrade(ctx context.Context, userID, newPlanID uuid.UUID) error {
	cur, err := s.store.ActiveByUser(ctx, userID)
	if err != nil {
		return err
	}

	curPlan, err := s.catalog.GetPlanByID(ctx, cur.PlanID)
	if err != nil {
		return err
	}
	newPlan, err := s.catalog.GetPlanByID(ctx, newPlanID)
	if err != nil {
		return err
	}
	if newPlan.Price <= curPlan.Price {
		return ErrUpgradeNotAllowed
	}

	now := s.now()
	cur.PlanID = newPlan.ID
	if err := s.store.SwapPlan(ctx, cur.ID, newPlan.ID, s.quotaReset(newPlan, cur, now)); err != nil {
		return err
	}

	s.notifyBestEffort(ctx, userID, notify.EventSubscriptionUpdated, map[string]any{
		"plan_code": newPlan.Code,
		"plan_name": newPlan.Name,
		"upgraded":  true,
	})
	return nil
}

func (s *service) ProcessExpired(ctx context.Context) (int, error) {
	now := s.now()

	due, err := s.store.DueForExpiration(ctx, now, s.lookback)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	free, err := s.catalog.GetPlan(ctx, s.freePlanCode)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, sub := range due {
		expired, err := s.store.MarkExpired(ctx, sub.ID, now)
		if err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "failed to mark subscription expired",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if !expired {
			// Another sweep worker already handled this row.
			continue
		}

		if _, err := s.Activate(ctx, sub.UserID, free.ID); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "failed to downgrade expired subscription",
				slog.String("user_id", sub.UserID.String()),
				slog.String("error", err.Error()))
			continue
		}

		s.notifyBestEffort(ctx, sub.UserID, notify.EventSubscriptionExpired, map[string]any{
			"expired_plan_id": sub.PlanID,
			"new_plan_code":   free.Code,
		})
		processed++
	}
	return processed, nil
}

func (s *service) ExpiringSubscriptions(ctx context.Context, days int) ([]Subscription, error) {
	return s.store.ExpiringWithin(ctx, s.now(), time.Duration(days)*24*time.Hour)
}

var reminderDays = map[int]struct{}{7: {}, 3: {}, 1: {}}

func (s *service) SendExpirationReminders(ctx context.Context) (int, error) {
	now := s.now()

	expiring, err := s.store.ExpiringWithin(ctx, now, 7*24*time.Hour)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, sub := range expiring {
		days := sub.DaysRemaining(now)
		if _, ok := reminderDays[days]; !ok {
			continue
		}

		payload := map[string]any{
			"days_remaining": days,
			"end_date":       sub.EndDate,
		}
		if p, err := s.catalog.GetPlanByID(ctx, sub.PlanID); err == nil {
			payload["plan_name"] = p.Name
		}

		if err := s.notifier.Notify(ctx, sub.UserID, notify.EventSubscriptionExpiring, payload); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to send expiration reminder",
				slog.String("user_id", sub.UserID.String()),
				slog.String("error", err.Error()))
			continue
		}
		sent++
	}
	return sent, nil
}

// quotaReset computes the ledger re-initialization for a plan: one
// zeroed counter per plan feature with the period window each feature
// starts in, plus the preserved feature list and storage snapshot.
func (s *service) quotaReset(p plan.Plan, sub Subscription, now time.Time) QuotaReset {
	reset := QuotaReset{
		Init:              make([]usage.InitRecord, 0, len(p.Features)),
		Preserve:          feature.Preserved(),
		StorageQuotaBytes: p.StorageQuotaBytes(),
	}
	for code := range p.Features {
		w := period.Current(feature.CadenceOf(code), sub.QuotaResetAnchor, sub.StartDate, sub.EndDate, now)
		reset.Init = append(reset.Init, usage.InitRecord{FeatureCode: code, Window: w})
	}
	return reset
}

func (s *service) notifyBestEffort(ctx context.Context, userID uuid.UUID, event string, payload any) {
	if err := s.notifier.Notify(ctx, userID, event, payload); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "notification delivery failed",
			slog.String("user_id", userID.String()),
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

func upgradeOrderRef(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
	return "UPG" + strconv.FormatInt(now.UnixMilli(), 10) + suffix
}
