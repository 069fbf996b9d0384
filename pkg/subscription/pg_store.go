package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists subscriptions in PostgreSQL. A partial unique index
// on (user_id) WHERE status = 'active' backs the single-active-row
// invariant; the transactional replace-then-insert in Activate keeps
// concurrent activations from ever tripping it.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed subscription store.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	if db == nil {
		panic("subscription: pgx pool is required")
	}
	return &PGStore{db: db}
}

const subscriptionColumns = `id, user_id, plan_id, status, start_date, end_date,
	custom_quotas, quota_reset_anchor, quota_cycle_type, created_at, updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var (
		s         Subscription
		overrides []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.Status, &s.StartDate, &s.EndDate,
		&overrides, &s.QuotaResetAnchor, &s.QuotaCycleType, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Subscription{}, err
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &s.CustomQuotas); err != nil {
			return Subscription{}, err
		}
	}
	return s, nil
}

func (st *PGStore) ActiveByUser(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	row := st.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = $1 AND status = 'active'`,
		userID)
	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, ErrNoActiveSubscription
		}
		return Subscription{}, errors.Join(ErrFailedToQuerySubscription, err)
	}
	return s, nil
}

// Activate runs the full plan-change transaction: replace the old active
// row, insert the new one, reset usage counters, refresh the storage
// quota snapshot. A crash anywhere rolls the user back to their prior
// consistent state.
func (st *PGStore) Activate(ctx context.Context, sub Subscription, reset QuotaReset) error {
	overrides, err := json.Marshal(sub.CustomQuotas)
	if err != nil {
		return errors.Join(ErrFailedToActivate, err)
	}

	tx, err := st.db.Begin(ctx)
	if err != nil {
		return errors.Join(ErrFailedToActivate, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE subscriptions SET status = 'replaced', updated_at = now()
		 WHERE user_id = $1 AND status = 'active'`,
		sub.UserID)
	if err != nil {
		return errors.Join(ErrFailedToActivate, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO subscriptions (id, user_id, plan_id, status, start_date, end_date,
		                            custom_quotas, quota_reset_anchor, quota_cycle_type)
		 VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, $8)`,
		sub.ID, sub.UserID, sub.PlanID, sub.StartDate, sub.EndDate,
		overrides, sub.QuotaResetAnchor, sub.QuotaCycleType)
	if err != nil {
		return errors.Join(ErrFailedToActivate, err)
	}

	if err := applyQuotaReset(ctx, tx, sub.UserID, reset); err != nil {
		return errors.Join(ErrFailedToActivate, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Join(ErrFailedToActivate, err)
	}
	return nil
}

// SwapPlan changes the plan of an active subscription in place and
// resets usage, all in one transaction. Used by the upgrade flow after
// payment confirmation.
func (st *PGStore) SwapPlan(ctx context.Context, subID, newPlanID uuid.UUID, reset QuotaReset) error {
	tx, err := st.db.Begin(ctx)
	if err != nil {
		return errors.Join(ErrFailedToUpdateSubscription, err)
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE subscriptions SET plan_id = $2, updated_at = now()
		 WHERE id = $1 AND status = 'active'
		 RETURNING user_id`,
		subID, newPlanID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoActiveSubscription
		}
		return errors.Join(ErrFailedToUpdateSubscription, err)
	}

	if err := applyQuotaReset(ctx, tx, userID, reset); err != nil {
		return errors.Join(ErrFailedToUpdateSubscription, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Join(ErrFailedToUpdateSubscription, err)
	}
	return nil
}

// applyQuotaReset drops the counters of features that do not survive a
// plan change, seeds zeroed rows for the new plan's features, and
// refreshes the storage quota snapshot.
func applyQuotaReset(ctx context.Context, tx pgx.Tx, userID uuid.UUID, reset QuotaReset) error {
	preserve := make([]string, len(reset.Preserve))
	for i, c := range reset.Preserve {
		preserve[i] = string(c)
	}

	_, err := tx.Exec(ctx,
		`DELETE FROM usage_records WHERE user_id = $1 AND feature_code != ALL($2)`,
		userID, preserve)
	if err != nil {
		return err
	}

	for _, init := range reset.Init {
		// ON CONFLICT DO NOTHING keeps preserved counters that already
		// have a row for the current period.
		_, err := tx.Exec(ctx,
			`INSERT INTO usage_records (user_id, feature_code, usage_count, period_start, period_end, last_reset_at)
			 VALUES ($1, $2, 0, $3, $4, now())
			 ON CONFLICT (user_id, feature_code, period_start) DO NOTHING`,
			userID, string(init.FeatureCode), init.Window.Start, init.Window.End)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO storage_usage (user_id, quota_bytes)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET quota_bytes = EXCLUDED.quota_bytes, updated_at = now()`,
		userID, reset.StorageQuotaBytes)
	return err
}

func (st *PGStore) DueForExpiration(ctx context.Context, now time.Time, lookback time.Duration) ([]Subscription, error) {
	return st.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = 'active' AND end_date <= $1 AND end_date > $2
		 ORDER BY end_date`,
		now, now.Add(-lookback))
}

func (st *PGStore) MarkExpired(ctx context.Context, subID uuid.UUID, now time.Time) (bool, error) {
	tag, err := st.db.Exec(ctx,
		`UPDATE subscriptions SET status = 'expired', updated_at = $2
		 WHERE id = $1 AND status = 'active'`,
		subID, now)
	if err != nil {
		return false, errors.Join(ErrFailedToUpdateSubscription, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (st *PGStore) ExpiringWithin(ctx context.Context, now time.Time, d time.Duration) ([]Subscription, error) {
	return st.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = 'active' AND end_date > $1 AND end_date <= $2
		 ORDER BY end_date`,
		now, now.Add(d))
}

func (st *PGStore) querySubscriptions(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := st.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(ErrFailedToQuerySubscription, err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, errors.Join(ErrFailedToQuerySubscription, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
