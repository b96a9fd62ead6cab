package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/tipline/backend/internal/models"
)

// PostgresLog stores audit entries in the audit_log table. The table carries
// a trigger rejecting UPDATE and DELETE, so append-only holds at the
// database layer too.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog wraps an open connection pool.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

const auditColumns = `entry_id, tip_id, agent, timestamp, duration_ms, status,
	summary, model_used, error_detail, human_actor, previous_value, new_value, seq`

func (l *PostgresLog) Append(ctx context.Context, e *models.AuditEntry) error {
	if e.EntryID == "" {
		e.EntryID = uuid.New().String()
	}
	var prev, next interface{}
	if len(e.PrevValue) > 0 {
		prev = []byte(e.PrevValue)
	}
	if len(e.NewValue) > 0 {
		next = []byte(e.NewValue)
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO audit_log
			(entry_id, tip_id, agent, timestamp, duration_ms, status,
			 summary, model_used, error_detail, human_actor, previous_value, new_value)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4::timestamptz, '0001-01-01T00:00:00Z'), now()),
		        $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (entry_id) DO NOTHING
		RETURNING seq, timestamp`,
		e.EntryID, e.TipID, e.Agent, e.Timestamp, e.DurationMs, string(e.Status),
		e.Summary, e.ModelUsed, e.ErrorDetail, e.HumanActor, prev, next,
	).Scan(&e.Seq, &e.Timestamp)
	if err == sql.ErrNoRows {
		// Conflict path: the entry already exists, fetch its assigned order.
		return l.db.QueryRowContext(ctx,
			`SELECT seq, timestamp FROM audit_log WHERE entry_id = $1`,
			e.EntryID,
		).Scan(&e.Seq, &e.Timestamp)
	}
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (l *PostgresLog) ByTip(ctx context.Context, tipID string) ([]models.AuditEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log
		WHERE tip_id = $1
		ORDER BY seq ASC`, tipID)
	if err != nil {
		return nil, fmt.Errorf("query audit by tip: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (l *PostgresLog) ByAgent(ctx context.Context, agent string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log
		WHERE agent = $1
		ORDER BY seq DESC
		LIMIT $2`, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit by agent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var status string
		var modelUsed, errDetail, humanActor sql.NullString
		var durationMs sql.NullInt64
		var prev, next []byte
		if err := rows.Scan(&e.EntryID, &e.TipID, &e.Agent, &e.Timestamp,
			&durationMs, &status, &e.Summary, &modelUsed, &errDetail,
			&humanActor, &prev, &next, &e.Seq); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Status = models.AuditStatus(status)
		e.DurationMs = durationMs.Int64
		e.ModelUsed = modelUsed.String
		e.ErrorDetail = errDetail.String
		e.HumanActor = humanActor.String
		if len(prev) > 0 {
			e.PrevValue = prev
		}
		if len(next) > 0 {
			e.NewValue = next
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
