package alert

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/feature"
)

var (
	ErrAlertNotFound      = errors.New("quota alert not found")
	ErrUnauthorized       = errors.New("quota alert belongs to another user")
	ErrFailedToStoreAlert = errors.New("failed to store quota alert")
	ErrFailedToQueryAlert = errors.New("failed to query quota alerts")
)

// Type classifies how severe a threshold crossing is.
type Type string

const (
	TypeWarning  Type = "warning"
	TypeCritical Type = "critical"
	TypeDepleted Type = "depleted"
)

// Threshold returns the usage percentage at which this alert type fires.
func (t Type) Threshold() int {
	switch t {
	case TypeWarning:
		return 80
	case TypeCritical:
		return 95
	case TypeDepleted:
		return 100
	}
	return 0
}

// ordered from lowest to highest so Evaluate can emit every newly
// crossed threshold in one pass.
var orderedTypes = []Type{TypeWarning, TypeCritical, TypeDepleted}

// Alert is a one-shot threshold crossing notice. At most one alert per
// (user, feature, type, period) exists; subsequent increments past the
// same threshold within the period must not create another.
type Alert struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	FeatureCode         feature.Code
	Type                Type
	ThresholdPercentage int
	CurrentUsage        int64
	QuotaLimit          int64
	PeriodStart         time.Time
	IsSent              bool
	SentAt              *time.Time
	CreatedAt           time.Time
}

// Statistics summarizes a user's alert history.
type Statistics struct {
	Total     int64
	Unsent    int64
	ByType    map[Type]int64
	ByFeature map[feature.Code]int64
}
