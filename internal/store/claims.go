package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresClaims is the durable fingerprint register. The unique constraint
// on tip_fingerprints makes the claim race-free across processes; the first
// insert wins and every later submission reads the canonical owner back.
// Satisfies the ingest claims contract.
type PostgresClaims struct {
	db *sql.DB
}

func NewPostgresClaims(db *sql.DB) *PostgresClaims {
	return &PostgresClaims{db: db}
}

func (c *PostgresClaims) Claim(ctx context.Context, fingerprint, tipID string) (string, bool, error) {
	var claimed string
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO tip_fingerprints (fingerprint, tip_id)
		VALUES ($1, $2)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING tip_id`,
		fingerprint, tipID,
	).Scan(&claimed)
	if err == nil {
		return claimed, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("claim fingerprint: %w", err)
	}

	err = c.db.QueryRowContext(ctx,
		`SELECT tip_id FROM tip_fingerprints WHERE fingerprint = $1`, fingerprint).Scan(&claimed)
	if err != nil {
		return "", false, fmt.Errorf("resolve canonical tip: %w", err)
	}
	return claimed, false, nil
}

func (c *PostgresClaims) Release(ctx context.Context, fingerprint, tipID string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM tip_fingerprints WHERE fingerprint = $1 AND tip_id = $2`,
		fingerprint, tipID)
	if err != nil {
		return fmt.Errorf("release fingerprint: %w", err)
	}
	return nil
}
