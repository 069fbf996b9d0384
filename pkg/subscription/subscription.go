package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/feature"
)

// Status is a subscription lifecycle state. Terminal states (replaced,
// expired) never transition further; a brand-new active row is created
// instead of resurrecting an old one.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusReplaced Status = "replaced"
)

// Subscription grants one user one plan for a bounded time span.
// At most one subscription per user has StatusActive at any instant;
// the activation transaction enforces this by flipping the previous
// active row to replaced before inserting the new one.
type Subscription struct {
	ID     uuid.UUID
	UserID uuid.UUID
	PlanID uuid.UUID
	Status Status

	StartDate time.Time
	EndDate   time.Time

	// CustomQuotas is a sparse per-user override layered on top of the
	// plan's feature values. Absent keys fall through to the plan.
	CustomQuotas map[feature.Code]int64

	// QuotaResetAnchor is the timestamp monthly periods are computed
	// relative to. Set to StartDate on activation and never moved.
	QuotaResetAnchor time.Time
	QuotaCycleType   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the subscription grants quota at the given
// instant. Status alone is not enough: an active row past its end date
// grants nothing while it waits for the expiration sweep.
func (s Subscription) IsActive(at time.Time) bool {
	return s.Status == StatusActive && at.Before(s.EndDate)
}

// QuotaFor resolves the effective quota for a feature: the custom
// override if present, else the plan value passed in. The second return
// is false when neither source defines the feature.
func (s Subscription) QuotaFor(code feature.Code, planValue int64, planHas bool) (int64, bool) {
	if v, ok := s.CustomQuotas[code]; ok {
		return v, true
	}
	return planValue, planHas
}

// DaysRemaining returns the number of whole or partial days until the
// subscription ends, never negative.
func (s Subscription) DaysRemaining(now time.Time) int {
	if !now.Before(s.EndDate) {
		return 0
	}
	d := s.EndDate.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}
