package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/feature"
	"github.com/quotakit/quotakit/pkg/period"
)

var (
	ErrInvalidAmount       = errors.New("usage amount must be positive")
	ErrFailedToRecordUsage = errors.New("failed to record usage")
	ErrFailedToQueryUsage  = errors.New("failed to query usage")
)

// Record is one accounting row: the accumulated usage of a feature by a
// user within one period window. usage_count only ever grows; deleting
// the resource that consumed quota never refunds it, and the ledger has
// no decrement operation.
type Record struct {
	UserID      uuid.UUID
	FeatureCode feature.Code
	UsageCount  int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	LastResetAt time.Time
}

// InitRecord seeds a zeroed counter for one feature when a plan is
// activated or swapped.
type InitRecord struct {
	FeatureCode feature.Code
	Window      period.Window
}

// StorageUsage is the byte-denominated accounting consulted only by the
// storage_space feature path. QuotaBytes is a snapshot of the plan's MB
// value at the last plan change; PurchasedBytes is a separately bought
// add-on layered on top of it.
type StorageUsage struct {
	UserID         uuid.UUID
	ImageBytes     int64
	DocumentBytes  int64
	ArticleBytes   int64
	QuotaBytes     int64
	PurchasedBytes int64
}

// UsedBytes returns total consumed storage.
func (s StorageUsage) UsedBytes() int64 {
	return s.ImageBytes + s.DocumentBytes + s.ArticleBytes
}

// UsedMB returns consumed storage in whole megabytes, rounded up so a
// single byte over a boundary counts against the next MB.
func (s StorageUsage) UsedMB() int64 {
	used := s.UsedBytes()
	if used <= 0 {
		return 0
	}
	return (used + 1024*1024 - 1) / (1024 * 1024)
}

// PurchasedMB returns the purchased add-on in whole megabytes.
func (s StorageUsage) PurchasedMB() int64 {
	if s.PurchasedBytes <= 0 {
		return 0
	}
	return s.PurchasedBytes / (1024 * 1024)
}

// Ledger is the durable usage counter store. Record must be atomic under
// concurrent writers for the same (user, feature, period) row: two racing
// increments must both be counted.
type Ledger interface {
	// Record adds amount to the counter for the given window, creating
	// the row if this is the first usage of the period. Amount must be
	// positive; there is deliberately no decrement.
	Record(ctx context.Context, userID uuid.UUID, code feature.Code, amount int64, w period.Window) error

	// CurrentUsage returns the counter of the row whose window contains
	// at. A missing row means zero usage, not an error.
	CurrentUsage(ctx context.Context, userID uuid.UUID, code feature.Code, at time.Time) (int64, error)

	// StorageUsage returns the byte-accounting row for a user. A missing
	// row returns a zero-valued StorageUsage.
	StorageUsage(ctx context.Context, userID uuid.UUID) (StorageUsage, error)
}
