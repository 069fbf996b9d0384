package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/feature"
	"github.com/quotakit/quotakit/pkg/period"
)

type ledgerKey struct {
	userID      uuid.UUID
	featureCode feature.Code
	periodStart time.Time
}

// MemLedger is an in-memory Ledger used by tests and by the in-memory
// subscription store. Increments happen under a single mutex, giving the
// same lost-update-free behaviour the SQL upsert provides.
type MemLedger struct {
	mu      sync.Mutex
	records map[ledgerKey]*Record
	storage map[uuid.UUID]StorageUsage
}

// NewMemLedger returns an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{
		records: make(map[ledgerKey]*Record),
		storage: make(map[uuid.UUID]StorageUsage),
	}
}

// Record adds amount to the counter for the window.
func (l *MemLedger) Record(_ context.Context, userID uuid.UUID, code feature.Code, amount int64, w period.Window) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{userID: userID, featureCode: code, periodStart: w.Start}
	if rec, ok := l.records[key]; ok {
		rec.UsageCount += amount
		return nil
	}
	l.records[key] = &Record{
		UserID:      userID,
		FeatureCode: code,
		UsageCount:  amount,
		PeriodStart: w.Start,
		PeriodEnd:   w.End,
		LastResetAt: w.Start,
	}
	return nil
}

// CurrentUsage returns the counter whose window contains at, or zero.
func (l *MemLedger) CurrentUsage(_ context.Context, userID uuid.UUID, code feature.Code, at time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var best *Record
	for _, rec := range l.records {
		if rec.UserID != userID || rec.FeatureCode != code {
			continue
		}
		if at.Before(rec.PeriodStart) || !at.Before(rec.PeriodEnd) {
			continue
		}
		if best == nil || rec.PeriodStart.After(best.PeriodStart) {
			best = rec
		}
	}
	if best == nil {
		return 0, nil
	}
	return best.UsageCount, nil
}

// StorageUsage returns the byte-accounting row for a user.
func (l *MemLedger) StorageUsage(_ context.Context, userID uuid.UUID) (StorageUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	su, ok := l.storage[userID]
	if !ok {
		return StorageUsage{UserID: userID}, nil
	}
	return su, nil
}

// SetStorageUsage seeds or replaces a user's storage accounting row.
func (l *MemLedger) SetStorageUsage(su StorageUsage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.storage[su.UserID] = su
}

// ResetForPlan reinitializes a user's counters for a new plan's feature
// set: non-preserved rows are dropped and zeroed rows are seeded for the
// given windows. The storage quota snapshot is updated in place. Used by
// the in-memory subscription store's activation path.
func (l *MemLedger) ResetForPlan(userID uuid.UUID, init []InitRecord, preserve []feature.Code, storageQuotaBytes int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	preserved := make(map[feature.Code]bool, len(preserve))
	for _, c := range preserve {
		preserved[c] = true
	}

	for key, rec := range l.records {
		if rec.UserID == userID && !preserved[rec.FeatureCode] {
			delete(l.records, key)
		}
	}

	for _, ir := range init {
		if preserved[ir.FeatureCode] {
			// Keep whatever counter already exists for real resources.
			if l.hasRowLocked(userID, ir.FeatureCode) {
				continue
			}
		}
		key := ledgerKey{userID: userID, featureCode: ir.FeatureCode, periodStart: ir.Window.Start}
		l.records[key] = &Record{
			UserID:      userID,
			FeatureCode: ir.FeatureCode,
			UsageCount:  0,
			PeriodStart: ir.Window.Start,
			PeriodEnd:   ir.Window.End,
			LastResetAt: ir.Window.Start,
		}
	}

	su := l.storage[userID]
	su.UserID = userID
	su.QuotaBytes = storageQuotaBytes
	l.storage[userID] = su
}

func (l *MemLedger) hasRowLocked(userID uuid.UUID, code feature.Code) bool {
	for _, rec := range l.records {
		if rec.UserID == userID && rec.FeatureCode == code {
			return true
		}
	}
	return false
}
