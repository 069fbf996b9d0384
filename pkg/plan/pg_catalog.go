package plan

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotakit/quotakit/pkg/feature"
)

// PGCatalog reads plan reference data from PostgreSQL.
type PGCatalog struct {
	db *pgxpool.Pool
}

// NewPGCatalog creates a PostgreSQL-backed catalog.
func NewPGCatalog(db *pgxpool.Pool) *PGCatalog {
	if db == nil {
		panic("plan: pgx pool is required")
	}
	return &PGCatalog{db: db}
}

const planColumns = `id, plan_code, plan_name, price, billing_cycle, duration_days, is_active, created_at`

// GetPlan resolves a plan by its unique code.
func (c *PGCatalog) GetPlan(ctx context.Context, code string) (Plan, error) {
	row := c.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE plan_code = $1`, code)
	return c.scanPlan(ctx, row)
}

// GetPlanByID resolves a plan by primary key.
func (c *PGCatalog) GetPlanByID(ctx context.Context, id uuid.UUID) (Plan, error) {
	row := c.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	return c.scanPlan(ctx, row)
}

// ActivePlans lists plans available for purchase, cheapest first.
func (c *PGCatalog) ActivePlans(ctx context.Context) ([]Plan, error) {
	rows, err := c.db.Query(ctx,
		`SELECT `+planColumns+` FROM plans WHERE is_active ORDER BY price ASC`)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlan, err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		p, err := scanPlanRow(rows)
		if err != nil {
			return nil, errors.Join(ErrFailedToLoadPlan, err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlan, err)
	}

	for i := range plans {
		if err := c.loadFeatures(ctx, &plans[i]); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func (c *PGCatalog) scanPlan(ctx context.Context, row pgx.Row) (Plan, error) {
	p, err := scanPlanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Plan{}, ErrPlanNotFound
		}
		return Plan{}, errors.Join(ErrFailedToLoadPlan, err)
	}
	if err := c.loadFeatures(ctx, &p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func (c *PGCatalog) loadFeatures(ctx context.Context, p *Plan) error {
	rows, err := c.db.Query(ctx,
		`SELECT feature_code, feature_value FROM plan_features WHERE plan_id = $1`, p.ID)
	if err != nil {
		return errors.Join(ErrFailedToLoadPlan, err)
	}
	defer rows.Close()

	p.Features = make(map[feature.Code]int64)
	for rows.Next() {
		var code string
		var value int64
		if err := rows.Scan(&code, &value); err != nil {
			return errors.Join(ErrFailedToLoadPlan, err)
		}
		p.Features[feature.Code(code)] = value
	}
	return rows.Err()
}

func scanPlanRow(row pgx.Row) (Plan, error) {
	var p Plan
	var cycle string
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Price, &cycle, &p.DurationDays, &p.Active, &p.CreatedAt)
	if err != nil {
		return Plan{}, err
	}
	p.BillingCycle = BillingCycle(cycle)
	return p, nil
}
