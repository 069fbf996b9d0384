package quota

import (
	"errors"
	"time"

	"github.com/quotakit/quotakit/pkg/feature"
)

var (
	// ErrFeatureNotInPlan means neither the plan nor the subscription's
	// custom overrides define the feature. CanPerform treats this as
	// "cannot perform"; RecordUsage surfaces it because recording usage
	// against an undemarcated feature would corrupt accounting.
	ErrFeatureNotInPlan = errors.New("feature not available in plan")

	ErrFailedToEvaluateQuota = errors.New("failed to evaluate quota")
)

// FeatureUsageStat is one row of a user's quota dashboard.
type FeatureUsageStat struct {
	FeatureCode feature.Code
	Limit       int64 // -1 means unlimited
	Used        int64
	Remaining   int64 // -1 when Limit is unlimited
	Percentage  float64
	ResetPeriod feature.Cadence
	// NextResetTime is nil for lifetime-cadence features, which only
	// reset on plan change.
	NextResetTime *time.Time
}
