package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quotakit/quotakit/pkg/feature"
)

type crossingKey struct {
	userID      uuid.UUID
	featureCode feature.Code
	typ         Type
	periodStart time.Time
}

// MemStore is an in-memory alert Store for tests.
type MemStore struct {
	mu        sync.Mutex
	alerts    map[uuid.UUID]*Alert
	crossings map[crossingKey]uuid.UUID
	now       func() time.Time
}

// NewMemStore returns an empty in-memory alert store.
func NewMemStore() *MemStore {
	return &MemStore{
		alerts:    make(map[uuid.UUID]*Alert),
		crossings: make(map[crossingKey]uuid.UUID),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemStore) Insert(_ context.Context, a *Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := crossingKey{userID: a.UserID, featureCode: a.FeatureCode, typ: a.Type, periodStart: a.PeriodStart}
	if _, exists := s.crossings[key]; exists {
		// Same threshold already alerted for this period.
		return false, nil
	}

	cp := *a
	cp.CreatedAt = s.now()
	s.alerts[cp.ID] = &cp
	s.crossings[key] = cp.ID
	return true, nil
}

func (s *MemStore) Unsent(_ context.Context, userID uuid.UUID) ([]Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Alert
	for _, a := range s.alerts {
		if a.UserID == userID && !a.IsSent {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) MarkSent(_ context.Context, alertID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	if a.UserID != userID {
		return ErrUnauthorized
	}

	now := s.now()
	a.IsSent = true
	a.SentAt = &now
	return nil
}

func (s *MemStore) Statistics(_ context.Context, userID uuid.UUID) (Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		ByType:    make(map[Type]int64),
		ByFeature: make(map[feature.Code]int64),
	}
	for _, a := range s.alerts {
		if a.UserID != userID {
			continue
		}
		stats.Total++
		if !a.IsSent {
			stats.Unsent++
		}
		stats.ByType[a.Type]++
		stats.ByFeature[a.FeatureCode]++
	}
	return stats, nil
}

func (s *MemStore) PurgeSent(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, a := range s.alerts {
		if a.IsSent && a.SentAt != nil && a.SentAt.Before(olderThan) {
			delete(s.alerts, id)
			delete(s.crossings, crossingKey{userID: a.UserID, featureCode: a.FeatureCode, typ: a.Type, periodStart: a.PeriodStart})
			purged++
		}
	}
	return purged, nil
}
