package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotakit/quotakit/pkg/feature"
	"github.com/quotakit/quotakit/pkg/period"
)

const defaultStatementTimeout = 5 * time.Second

// PGLedger persists usage counters in PostgreSQL. The increment is a
// single INSERT .. ON CONFLICT .. DO UPDATE statement so concurrent
// requests for the same (user, feature, period) row serialize on the
// row lock instead of losing updates.
type PGLedger struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

// PGLedgerOption configures a PGLedger.
type PGLedgerOption func(*PGLedger)

// WithStatementTimeout bounds each ledger write. On timeout the caller
// must treat the usage as not recorded; retrying with the same amount is
// safe from the caller's perspective only if the amount is not re-derived.
func WithStatementTimeout(d time.Duration) PGLedgerOption {
	return func(l *PGLedger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewPGLedger creates a PostgreSQL-backed usage ledger.
func NewPGLedger(db *pgxpool.Pool, opts ...PGLedgerOption) *PGLedger {
	if db == nil {
		panic("usage: pgx pool is required")
	}
	l := &PGLedger{db: db, timeout: defaultStatementTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record atomically increments the counter for the window, materializing
// the row on first use of the period. It also appends to the usage_events
// history log used for per-day statistics.
func (l *PGLedger) Record(ctx context.Context, userID uuid.UUID, code feature.Code, amount int64, w period.Window) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return errors.Join(ErrFailedToRecordUsage, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO usage_records (user_id, feature_code, usage_count, period_start, period_end, last_reset_at)
		 VALUES ($1, $2, $3, $4, $5, $4)
		 ON CONFLICT (user_id, feature_code, period_start)
		 DO UPDATE SET usage_count = usage_records.usage_count + EXCLUDED.usage_count,
		               updated_at = now()`,
		userID, string(code), amount, w.Start, w.End)
	if err != nil {
		return errors.Join(ErrFailedToRecordUsage, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO usage_events (user_id, feature_code, amount) VALUES ($1, $2, $3)`,
		userID, string(code), amount)
	if err != nil {
		return errors.Join(ErrFailedToRecordUsage, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Join(ErrFailedToRecordUsage, err)
	}
	return nil
}

// CurrentUsage returns the counter of the row whose window contains at.
func (l *PGLedger) CurrentUsage(ctx context.Context, userID uuid.UUID, code feature.Code, at time.Time) (int64, error) {
	var count int64
	err := l.db.QueryRow(ctx,
		`SELECT usage_count FROM usage_records
		 WHERE user_id = $1 AND feature_code = $2
		   AND period_start <= $3 AND period_end > $3
		 ORDER BY period_start DESC
		 LIMIT 1`,
		userID, string(code), at).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Fresh period not yet materialized.
			return 0, nil
		}
		return 0, errors.Join(ErrFailedToQueryUsage, err)
	}
	return count, nil
}

// StorageUsage returns the byte-accounting row for a user.
func (l *PGLedger) StorageUsage(ctx context.Context, userID uuid.UUID) (StorageUsage, error) {
	su := StorageUsage{UserID: userID}
	err := l.db.QueryRow(ctx,
		`SELECT image_bytes, document_bytes, article_bytes, quota_bytes, purchased_bytes
		 FROM storage_usage WHERE user_id = $1`,
		userID).Scan(&su.ImageBytes, &su.DocumentBytes, &su.ArticleBytes, &su.QuotaBytes, &su.PurchasedBytes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StorageUsage{UserID: userID}, nil
		}
		return StorageUsage{}, errors.Join(ErrFailedToQueryUsage, err)
	}
	return su, nil
}

// DailyCount is one day's total recorded usage for a feature.
type DailyCount struct {
	Date  time.Time
	Count int64
}

// DailyStatistics aggregates the usage_events history log per day within
// [from, to]. Used by reporting surfaces, not by quota decisions.
func (l *PGLedger) DailyStatistics(ctx context.Context, userID uuid.UUID, code feature.Code, from, to time.Time) ([]DailyCount, error) {
	rows, err := l.db.Query(ctx,
		`SELECT date_trunc('day', created_at) AS day, COALESCE(SUM(amount), 0)
		 FROM usage_events
		 WHERE user_id = $1 AND feature_code = $2 AND created_at BETWEEN $3 AND $4
		 GROUP BY day
		 ORDER BY day`,
		userID, string(code), from, to)
	if err != nil {
		return nil, errors.Join(ErrFailedToQueryUsage, err)
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, errors.Join(ErrFailedToQueryUsage, err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}
