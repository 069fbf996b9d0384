package plan

import (
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/feature"
)

// BillingCycle is the nominal billing frequency of a plan.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
	// CycleNone marks plans that are never billed (the free tier).
	CycleNone BillingCycle = "none"
)

// Plan is a subscription tier with per-feature quota values.
// Plans referenced by live subscriptions are treated as immutable;
// catalog administration happens outside this engine.
type Plan struct {
	ID           uuid.UUID
	Code         string // unique, e.g. "free", "professional", "enterprise"
	Name         string
	Price        int64 // smallest currency unit per billing cycle
	BillingCycle BillingCycle
	DurationDays int // 0 means derive from BillingCycle
	Active       bool
	Features     map[feature.Code]int64 // quota values; -1 is unlimited
	CreatedAt    time.Time
}

// Quota returns the plan's quota value for a feature and whether the
// plan supports the feature at all.
func (p Plan) Quota(code feature.Code) (int64, bool) {
	v, ok := p.Features[code]
	return v, ok
}

// Duration returns the subscription length granted by this plan in days.
// An explicit DurationDays wins; otherwise the billing cycle's nominal
// length applies. Free (unbilled) plans default to near-perpetual.
func (p Plan) Duration() int {
	if p.DurationDays > 0 {
		return p.DurationDays
	}
	switch p.BillingCycle {
	case CycleMonthly:
		return 30
	case CycleQuarterly:
		return 90
	case CycleYearly:
		return 365
	default:
		return 36500
	}
}

// StorageQuotaBytes converts the plan's MB-denominated storage value to
// bytes for the storage usage snapshot. The unlimited sentinel passes
// through unchanged.
func (p Plan) StorageQuotaBytes() int64 {
	mb, ok := p.Features[feature.StorageSpace]
	if !ok {
		return 0
	}
	if mb == feature.Unlimited {
		return feature.Unlimited
	}
	return mb * 1024 * 1024
}
