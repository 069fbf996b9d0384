package subscription

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/usage"
)

// MemStore is an in-memory Store for tests. When constructed with a
// MemLedger it mirrors the PostgreSQL store's transactional coupling:
// Activate and SwapPlan reset the ledger in the same critical section
// as the subscription mutation.
type MemStore struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]Subscription
	ledger *usage.MemLedger
}

// NewMemStore creates an empty in-memory subscription store. The ledger
// is optional; pass nil when the test does not touch usage counters.
func NewMemStore(ledger *usage.MemLedger) *MemStore {
	return &MemStore{
		subs:   make(map[uuid.UUID]Subscription),
		ledger: ledger,
	}
}

func (st *MemStore) ActiveByUser(_ context.Context, userID uuid.UUID) (Subscription, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, s := range st.subs {
		if s.UserID == userID && s.Status == StatusActive {
			return cloneSubscription(s), nil
		}
	}
	return Subscription{}, ErrNoActiveSubscription
}

func (st *MemStore) Activate(_ context.Context, sub Subscription, reset QuotaReset) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	for id, s := range st.subs {
		if s.UserID == sub.UserID && s.Status == StatusActive {
			s.Status = StatusReplaced
			s.UpdatedAt = sub.StartDate
			st.subs[id] = s
		}
	}

	sub.Status = StatusActive
	st.subs[sub.ID] = cloneSubscription(sub)

	if st.ledger != nil {
		st.ledger.ResetForPlan(sub.UserID, reset.Init, reset.Preserve, reset.StorageQuotaBytes)
	}
	return nil
}

func (st *MemStore) SwapPlan(_ context.Context, subID, newPlanID uuid.UUID, reset QuotaReset) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.subs[subID]
	if !ok || s.Status != StatusActive {
		return ErrNoActiveSubscription
	}
	s.PlanID = newPlanID
	st.subs[subID] = s

	if st.ledger != nil {
		st.ledger.ResetForPlan(s.UserID, reset.Init, reset.Preserve, reset.StorageQuotaBytes)
	}
	return nil
}

func (st *MemStore) DueForExpiration(_ context.Context, now time.Time, lookback time.Duration) ([]Subscription, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	cutoff := now.Add(-lookback)
	var out []Subscription
	for _, s := range st.subs {
		if s.Status == StatusActive && !s.EndDate.After(now) && s.EndDate.After(cutoff) {
			out = append(out, cloneSubscription(s))
		}
	}
	return out, nil
}

func (st *MemStore) MarkExpired(_ context.Context, subID uuid.UUID, now time.Time) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.subs[subID]
	if !ok || s.Status != StatusActive {
		return false, nil
	}
	s.Status = StatusExpired
	s.UpdatedAt = now
	st.subs[subID] = s
	return true, nil
}

func (st *MemStore) ExpiringWithin(_ context.Context, now time.Time, d time.Duration) ([]Subscription, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	limit := now.Add(d)
	var out []Subscription
	for _, s := range st.subs {
		if s.Status == StatusActive && s.EndDate.After(now) && !s.EndDate.After(limit) {
			out = append(out, cloneSubscription(s))
		}
	}
	return out, nil
}

// ByID returns any subscription row regardless of status. Test helper,
// not part of the Store interface.
func (st *MemStore) ByID(subID uuid.UUID) (Subscription, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.subs[subID]
	if !ok {
		return Subscription{}, false
	}
	return cloneSubscription(s), true
}

// CountByStatus returns how many rows a user has in the given status.
// Test helper.
func (st *MemStore) CountByStatus(userID uuid.UUID, status Status) int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	n := 0
	for _, s := range st.subs {
		if s.UserID == userID && s.Status == status {
			n++
		}
	}
	return n
}

func cloneSubscription(s Subscription) Subscription {
	if s.CustomQuotas != nil {
		s.CustomQuotas = maps.Clone(s.CustomQuotas)
	}
	return s
}
