package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tipline/backend/internal/legal"
)

// PostgresPrecedents persists the precedent log and derived rule overrides
// so a supervisor's live update survives a restart. Satisfies
// legal.PrecedentStore.
type PostgresPrecedents struct {
	db *sql.DB
}

func NewPostgresPrecedents(db *sql.DB) *PostgresPrecedents {
	return &PostgresPrecedents{db: db}
}

func (p *PostgresPrecedents) AppendPrecedent(ctx context.Context, u legal.PrecedentUpdate) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO circuit_precedent_updates
			(update_id, circuit, case_name, citation, holding, effect, entered_by, entered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (update_id) DO NOTHING`,
		u.UpdateID, u.Circuit, u.CaseName, u.Citation, u.Holding,
		string(u.Effect), u.EnteredBy, u.EnteredAt,
	)
	if err != nil {
		return fmt.Errorf("append precedent %s: %w", u.UpdateID, err)
	}
	return nil
}

func (p *PostgresPrecedents) SaveRuleOverride(ctx context.Context, r legal.Rule) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rule override: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO circuit_rule_overrides (circuit, rule, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (circuit) DO UPDATE SET rule = EXCLUDED.rule, updated_at = now()`,
		r.Circuit, payload,
	)
	if err != nil {
		return fmt.Errorf("save rule override for %s: %w", r.Circuit, err)
	}
	return nil
}

func (p *PostgresPrecedents) LoadPrecedents(ctx context.Context) ([]legal.PrecedentUpdate, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT update_id, circuit, case_name, citation, holding, effect, entered_by, entered_at
		FROM circuit_precedent_updates
		ORDER BY entered_at`)
	if err != nil {
		return nil, fmt.Errorf("load precedents: %w", err)
	}
	defer rows.Close()

	var out []legal.PrecedentUpdate
	for rows.Next() {
		var u legal.PrecedentUpdate
		var effect string
		if err := rows.Scan(&u.UpdateID, &u.Circuit, &u.CaseName, &u.Citation,
			&u.Holding, &effect, &u.EnteredBy, &u.EnteredAt); err != nil {
			return nil, fmt.Errorf("scan precedent row: %w", err)
		}
		u.Effect = legal.Effect(effect)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresPrecedents) LoadRuleOverrides(ctx context.Context) ([]legal.Rule, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT rule FROM circuit_rule_overrides ORDER BY circuit`)
	if err != nil {
		return nil, fmt.Errorf("load rule overrides: %w", err)
	}
	defer rows.Close()

	var out []legal.Rule
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan rule override: %w", err)
		}
		var r legal.Rule
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode rule override: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
