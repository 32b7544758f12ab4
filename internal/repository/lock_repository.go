package repository

import (
	"context"
	"database/sql"
	"time"
)

// LockRepositoryInterface is a per-lead lease. An expired lease can be taken
// over by another owner, so a crashed worker never blocks a lead for longer
// than the TTL.
type LockRepositoryInterface interface {
	Acquire(ctx context.Context, leadID int, owner string, ttl time.Duration, now time.Time) (bool, error)
	Release(ctx context.Context, leadID int, owner string) error
}

type LockRepository struct {
	DB *sql.DB
}

func (r *LockRepository) Acquire(ctx context.Context, leadID int, owner string, ttl time.Duration, now time.Time) (bool, error) {
	query := `
        INSERT INTO lead_locks (lead_id, owner, expires_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (lead_id) DO UPDATE
        SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
        WHERE lead_locks.expires_at <= $4
        RETURNING owner
    `
	var got string
	err := r.DB.QueryRowContext(ctx, query, leadID, owner, now.Add(ttl), now).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got == owner, nil
}

func (r *LockRepository) Release(ctx context.Context, leadID int, owner string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM lead_locks WHERE lead_id=$1 AND owner=$2`, leadID, owner)
	return err
}

var _ LockRepositoryInterface = (*LockRepository)(nil)
