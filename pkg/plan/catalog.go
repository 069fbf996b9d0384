package plan

import (
	"context"

	"github.com/google/uuid"
)

// Catalog is the read surface of the plan reference data. Implementations
// return ErrPlanNotFound for unknown plans.
type Catalog interface {
	// GetPlan resolves a plan by its unique code.
	GetPlan(ctx context.Context, code string) (Plan, error)

	// GetPlanByID resolves a plan by primary key.
	GetPlanByID(ctx context.Context, id uuid.UUID) (Plan, error)

	// ActivePlans lists plans available for purchase.
	ActivePlans(ctx context.Context) ([]Plan, error)
}

// Invalidator is implemented by catalogs that cache plan data and need
// explicit invalidation when the catalog admin flow writes a plan.
type Invalidator interface {
	Invalidate(ctx context.Context, code string) error
}
