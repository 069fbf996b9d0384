package plan

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// memCatalog implements Catalog over an in-memory plan map, keyed by code.
type memCatalog struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewMemCatalog returns an in-memory Catalog with a deep copy of the
// given plans. Intended for tests and static configurations.
func NewMemCatalog(plans map[string]Plan) Catalog {
	plansCopy := make(map[string]Plan, len(plans))
	for code, p := range plans {
		p.Features = maps.Clone(p.Features)
		plansCopy[code] = p
	}
	return &memCatalog{plans: plansCopy}
}

func (c *memCatalog) GetPlan(_ context.Context, code string) (Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[code]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	p.Features = maps.Clone(p.Features)
	return p, nil
}

func (c *memCatalog) GetPlanByID(_ context.Context, id uuid.UUID) (Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.plans {
		if p.ID == id {
			p.Features = maps.Clone(p.Features)
			return p, nil
		}
	}
	return Plan{}, ErrPlanNotFound
}

func (c *memCatalog) ActivePlans(_ context.Context) ([]Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var plans []Plan
	for _, p := range c.plans {
		if p.Active {
			p.Features = maps.Clone(p.Features)
			plans = append(plans, p)
		}
	}
	return plans, nil
}
