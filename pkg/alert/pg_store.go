package alert

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotakit/quotakit/pkg/feature"
)

// PGStore persists quota alerts in PostgreSQL. Idempotency per threshold
// per period comes from the unique index on
// (user_id, feature_code, alert_type, period_start) plus ON CONFLICT DO
// NOTHING.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed alert store.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	if db == nil {
		panic("alert: pgx pool is required")
	}
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, a *Alert) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO quota_alerts
		   (id, user_id, feature_code, alert_type, threshold_percentage,
		    current_usage, quota_limit, period_start, is_sent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)
		 ON CONFLICT (user_id, feature_code, alert_type, period_start) DO NOTHING`,
		a.ID, a.UserID, string(a.FeatureCode), string(a.Type), a.ThresholdPercentage,
		a.CurrentUsage, a.QuotaLimit, a.PeriodStart)
	if err != nil {
		return false, errors.Join(ErrFailedToStoreAlert, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Unsent(ctx context.Context, userID uuid.UUID) ([]Alert, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, feature_code, alert_type, threshold_percentage,
		        current_usage, quota_limit, period_start, is_sent, sent_at, created_at
		 FROM quota_alerts
		 WHERE user_id = $1 AND NOT is_sent
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, errors.Join(ErrFailedToQueryAlert, err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, errors.Join(ErrFailedToQueryAlert, err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// MarkSent verifies ownership before flipping is_sent. The ownership
// check is a cross-tenant integrity requirement: one user must never be
// able to acknowledge another user's alert.
func (s *PGStore) MarkSent(ctx context.Context, alertID, userID uuid.UUID) error {
	var owner uuid.UUID
	err := s.db.QueryRow(ctx,
		`SELECT user_id FROM quota_alerts WHERE id = $1`, alertID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlertNotFound
		}
		return errors.Join(ErrFailedToQueryAlert, err)
	}
	if owner != userID {
		return ErrUnauthorized
	}

	_, err = s.db.Exec(ctx,
		`UPDATE quota_alerts SET is_sent = TRUE, sent_at = now()
		 WHERE id = $1 AND user_id = $2`,
		alertID, userID)
	if err != nil {
		return errors.Join(ErrFailedToStoreAlert, err)
	}
	return nil
}

func (s *PGStore) Statistics(ctx context.Context, userID uuid.UUID) (Statistics, error) {
	stats := Statistics{
		ByType:    make(map[Type]int64),
		ByFeature: make(map[feature.Code]int64),
	}

	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT is_sent)
		 FROM quota_alerts WHERE user_id = $1`,
		userID).Scan(&stats.Total, &stats.Unsent)
	if err != nil {
		return Statistics{}, errors.Join(ErrFailedToQueryAlert, err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT alert_type, feature_code, COUNT(*)
		 FROM quota_alerts WHERE user_id = $1
		 GROUP BY alert_type, feature_code`,
		userID)
	if err != nil {
		return Statistics{}, errors.Join(ErrFailedToQueryAlert, err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ, code string
		var n int64
		if err := rows.Scan(&typ, &code, &n); err != nil {
			return Statistics{}, errors.Join(ErrFailedToQueryAlert, err)
		}
		stats.ByType[Type(typ)] += n
		stats.ByFeature[feature.Code(code)] += n
	}
	return stats, rows.Err()
}

func (s *PGStore) PurgeSent(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM quota_alerts WHERE is_sent AND sent_at < $1`, olderThan)
	if err != nil {
		return 0, errors.Join(ErrFailedToStoreAlert, err)
	}
	return tag.RowsAffected(), nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var a Alert
	var typ, code string
	err := row.Scan(&a.ID, &a.UserID, &code, &typ, &a.ThresholdPercentage,
		&a.CurrentUsage, &a.QuotaLimit, &a.PeriodStart, &a.IsSent, &a.SentAt, &a.CreatedAt)
	if err != nil {
		return Alert{}, err
	}
	a.FeatureCode = feature.Code(code)
	a.Type = Type(typ)
	return a, nil
}
