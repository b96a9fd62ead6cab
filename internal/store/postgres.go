package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/events"
	"github.com/tipline/backend/internal/models"
)

// Open connects to postgres and verifies the connection before anything
// else starts. A bad DSN or unreachable host is a fatal startup condition.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PostgresStore keeps the full aggregate as JSONB plus denormalized columns
// for queue ordering and filtering, with side tables for files and
// preservation requests so legal process is queryable row by row. Mutations
// lock the tip row, so aggregate writes are all-or-nothing.
type PostgresStore struct {
	db       *sql.DB
	auditLog audit.Log
	bus      *events.Bus
	logger   *log.Logger
}

func NewPostgresStore(db *sql.DB, auditLog audit.Log, bus *events.Bus) *PostgresStore {
	return &PostgresStore{
		db:       db,
		auditLog: auditLog,
		bus:      bus,
		logger:   log.New(log.Writer(), "[Store] ", log.LstdFlags),
	}
}

func (s *PostgresStore) Upsert(ctx context.Context, tip *models.Tip) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()
	if err := upsertTx(ctx, tx, tip); err != nil {
		return err
	}
	return tx.Commit()
}

// upsertTx writes the aggregate and rebuilds its side-table rows inside the
// caller's transaction.
func upsertTx(ctx context.Context, tx *sql.Tx, tip *models.Tip) error {
	cp := tip.Clone()
	cp.AuditTrail = nil // trails live in the audit log, hydrated on read
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	aggregate, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal tip %s: %w", cp.TipID, err)
	}

	tier, unit := "", ""
	rank := 6
	crisis := false
	if cp.Priority != nil {
		tier = string(cp.Priority.Tier)
		rank = models.TierRank(cp.Priority.Tier)
		unit = cp.Priority.RoutingUnit
		crisis = cp.Priority.VictimCrisisAlert
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tips (tip_id, source, status, tier, tier_rank, routing_unit,
		                  crisis_alert, assigned_to, is_bundled, bundled_incidents,
		                  received_at, updated_at, aggregate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tip_id) DO UPDATE SET
			source            = EXCLUDED.source,
			status            = EXCLUDED.status,
			tier              = EXCLUDED.tier,
			tier_rank         = EXCLUDED.tier_rank,
			routing_unit      = EXCLUDED.routing_unit,
			crisis_alert      = EXCLUDED.crisis_alert,
			assigned_to       = EXCLUDED.assigned_to,
			is_bundled        = EXCLUDED.is_bundled,
			bundled_incidents = EXCLUDED.bundled_incidents,
			received_at       = EXCLUDED.received_at,
			updated_at        = EXCLUDED.updated_at,
			aggregate         = EXCLUDED.aggregate`,
		cp.TipID, cp.Source, cp.Status, tier, rank, unit, crisis, cp.AssignedTo,
		cp.IsBundled, cp.BundledIncidentCount, cp.ReceivedAt, cp.UpdatedAt, aggregate,
	); err != nil {
		return fmt.Errorf("upsert tip %s: %w", cp.TipID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tip_files WHERE tip_id = $1`, cp.TipID); err != nil {
		return fmt.Errorf("refresh files for %s: %w", cp.TipID, err)
	}
	for i := range cp.Files {
		f := &cp.Files[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tip_files (tip_id, file_id, sha256, md5, warrant_required,
			                       warrant_status, warrant_number, file_access_blocked)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			cp.TipID, f.FileID, strings.ToLower(f.SHA256), strings.ToLower(f.MD5),
			f.WarrantRequired, f.WarrantStatus, f.WarrantNumber, f.FileAccessBlocked,
		); err != nil {
			return fmt.Errorf("insert file %s/%s: %w", cp.TipID, f.FileID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM preservation_requests WHERE tip_id = $1`, cp.TipID); err != nil {
		return fmt.Errorf("refresh preservation for %s: %w", cp.TipID, err)
	}
	for i := range cp.Preservation {
		p := &cp.Preservation[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO preservation_requests (request_id, tip_id, esp_name, status,
			                                   retention_days, deadline, issued_at, approved_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.RequestID, cp.TipID, p.ESPName, p.Status, p.RetentionDays,
			nullTime(p.Deadline), nullTime(p.IssuedAt), p.ApprovedBy,
		); err != nil {
			return fmt.Errorf("insert preservation %s: %w", p.RequestID, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tipID string) (*models.Tip, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT aggregate FROM tips WHERE tip_id = $1`, tipID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tipID)
	}
	if err != nil {
		return nil, fmt.Errorf("get tip %s: %w", tipID, err)
	}
	return decodeTip(raw)
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT aggregate, COUNT(*) OVER () AS total
		FROM tips
		WHERE ($1 = '' OR tier = $1)
		  AND (CASE WHEN $2 = '' THEN status <> 'duplicate' ELSE status = $2 END)
		  AND ($3 = '' OR routing_unit = $3)
		  AND (NOT $4 OR crisis_alert)
		ORDER BY tier_rank, received_at DESC
		LIMIT NULLIF($5, 0) OFFSET $6`,
		string(filter.Tier), string(filter.Status), filter.Unit, filter.CrisisOnly,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return ListResult{}, fmt.Errorf("list tips: %w", err)
	}
	defer rows.Close()

	result := ListResult{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw, &result.Total); err != nil {
			return ListResult{}, fmt.Errorf("scan tip row: %w", err)
		}
		tip, err := decodeTip(raw)
		if err != nil {
			return ListResult{}, err
		}
		result.Tips = append(result.Tips, tip)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("list tips: %w", err)
	}
	// An empty page past the end still needs the real total.
	if result.Total == 0 && filter.Offset > 0 {
		probe := filter
		probe.Offset = 0
		probe.Limit = 1
		if inner, err := s.List(ctx, probe); err == nil {
			result.Total = inner.Total
		}
	}
	return result, nil
}

func (s *PostgresStore) Assign(ctx context.Context, tipID, investigatorID, investigatorName string) (*models.Tip, error) {
	var out *models.Tip
	err := s.withTip(ctx, tipID, func(_ *sql.Tx, tip *models.Tip) (bool, error) {
		if err := assignGuard(tip); err != nil {
			return false, err
		}
		tip.AssignedTo = investigatorID
		tip.Status = models.StatusAssigned
		tip.UpdatedAt = time.Now().UTC()
		out = tip
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.append(ctx, assignAuditEntry(tipID, investigatorID, investigatorName))
	s.logger.Printf("👤 %s assigned to %s", tipID, investigatorID)
	return out, nil
}

func (s *PostgresStore) UpdateFileWarrant(ctx context.Context, tipID, fileID string, change WarrantChange) (*models.TipFile, error) {
	var out models.TipFile
	var prev models.WarrantStatus
	var didChange bool
	err := s.withTip(ctx, tipID, func(tx *sql.Tx, tip *models.Tip) (bool, error) {
		if f := tip.FileByID(fileID); f != nil {
			prev = f.WarrantStatus
		}
		file, changed, err := applyWarrantChange(tip, fileID, change)
		if err != nil {
			return false, err
		}
		out = *file
		didChange = changed
		if !changed {
			return false, nil
		}
		actor := change.GrantedBy
		if actor == "" {
			actor = change.ApprovedBy
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO warrant_applications (application_id, tip_id, file_id, status, warrant_number, actor)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New().String(), tipID, fileID, change.Status, change.WarrantNumber, actor,
		); err != nil {
			return false, fmt.Errorf("record warrant application: %w", err)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if didChange {
		s.append(ctx, warrantAuditEntry(tipID, &out, prev, change))
		s.emit(models.StageEvent{
			TipID:     tipID,
			Step:      models.StepWarrantUpdate,
			Status:    models.EventDone,
			Timestamp: time.Now().UTC(),
			Detail:    fmt.Sprintf("file %s warrant %s", fileID, change.Status),
		})
		s.logger.Printf("⚖️ %s file %s warrant -> %s", tipID, fileID, change.Status)
	}
	return &out, nil
}

func (s *PostgresStore) IssuePreservation(ctx context.Context, requestID, approvedBy string) (*models.PreservationRequest, error) {
	var tipID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tip_id FROM preservation_requests WHERE request_id = $1`, requestID).Scan(&tipID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("locate preservation request %s: %w", requestID, err)
	}

	var out models.PreservationRequest
	var didChange bool
	err = s.withTip(ctx, tipID, func(_ *sql.Tx, tip *models.Tip) (bool, error) {
		req, changed := issuePreservation(tip, requestID, approvedBy)
		if req == nil {
			return false, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		out = *req
		didChange = changed
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	if didChange {
		s.append(ctx, preservationAuditEntry(tipID, &out))
		s.logger.Printf("📨 preservation %s issued for %s", requestID, tipID)
	}
	return &out, nil
}

func (s *PostgresStore) RecordHandoff(ctx context.Context, tipID string, in HandoffInput) (*models.ForensicsHandoff, error) {
	tip, err := s.Get(ctx, tipID)
	if err != nil {
		return nil, err
	}
	if err := assignGuard(tip); err != nil {
		return nil, err
	}
	handoff, err := buildHandoff(tip, in)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin handoff: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO forensics_handoffs (handoff_id, tip_id, tool, officer_id,
		                                officer_name, notes, tier, generated_at, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		handoff.HandoffID, handoff.TipID, handoff.Tool, handoff.OfficerID,
		handoff.OfficerName, handoff.Notes, handoff.Tier, handoff.GeneratedAt,
		[]byte(handoff.Snapshot),
	); err != nil {
		return nil, fmt.Errorf("record handoff for %s: %w", tipID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO officers (officer_id, name, last_seen)
		VALUES ($1, $2, now())
		ON CONFLICT (officer_id) DO UPDATE SET
			name      = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE officers.name END,
			last_seen = now()`,
		in.OfficerID, in.OfficerName,
	); err != nil {
		return nil, fmt.Errorf("update officer roster: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit handoff: %w", err)
	}

	s.append(ctx, handoffAuditEntry(handoff))
	s.logger.Printf("📦 %s handed to %s (officer %s)", tipID, in.Tool, in.OfficerID)
	return &handoff, nil
}

func (s *PostgresStore) Handoffs(ctx context.Context, tipID string) ([]models.ForensicsHandoff, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handoff_id, tip_id, tool, officer_id, officer_name, notes, tier, generated_at, snapshot
		FROM forensics_handoffs
		WHERE tip_id = $1
		ORDER BY generated_at`, tipID)
	if err != nil {
		return nil, fmt.Errorf("query handoffs for %s: %w", tipID, err)
	}
	defer rows.Close()

	var out []models.ForensicsHandoff
	for rows.Next() {
		var h models.ForensicsHandoff
		var snapshot []byte
		if err := rows.Scan(&h.HandoffID, &h.TipID, &h.Tool, &h.OfficerID,
			&h.OfficerName, &h.Notes, &h.Tier, &h.GeneratedAt, &snapshot); err != nil {
			return nil, fmt.Errorf("scan handoff row: %w", err)
		}
		h.Snapshot = snapshot
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindRelated(ctx context.Context, tip *models.Tip) ([]string, error) {
	usernames, ips, hashes := relatedIdentifiers(tip)
	if len(usernames)+len(ips)+len(hashes) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT t.tip_id
		FROM tips t
		WHERE t.tip_id <> $1
		  AND t.status <> 'duplicate'
		  AND (
			EXISTS (SELECT 1 FROM tip_files f
			        WHERE f.tip_id = t.tip_id AND f.sha256 <> '' AND f.sha256 = ANY($2))
			OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(
			            COALESCE(t.aggregate->'extracted_entities'->'usernames', '[]'::jsonb)) AS u(name)
			           WHERE lower(u.name) = ANY($3))
			OR EXISTS (SELECT 1 FROM jsonb_array_elements(
			            COALESCE(t.aggregate->'extracted_entities'->'subjects', '[]'::jsonb)) AS subj(doc)
			           WHERE lower(COALESCE(subj.doc->>'username', '')) = ANY($3))
			OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(
			            COALESCE(t.aggregate->'extracted_entities'->'ip_addresses', '[]'::jsonb)) AS ip(addr)
			           WHERE lower(ip.addr) = ANY($4))
		  )
		ORDER BY t.tip_id
		LIMIT 25`,
		tip.TipID, pq.Array(hashes), pq.Array(usernames), pq.Array(ips),
	)
	if err != nil {
		return nil, fmt.Errorf("find related tips: %w", err)
	}
	defer rows.Close()

	var related []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan related tip: %w", err)
		}
		related = append(related, id)
	}
	return related, rows.Err()
}

func (s *PostgresStore) Recent(ctx context.Context, since time.Time) ([]*models.Tip, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT aggregate FROM tips WHERE received_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("query recent tips: %w", err)
	}
	defer rows.Close()

	var out []*models.Tip
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan recent tip: %w", err)
		}
		tip, err := decodeTip(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, tip)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByTier: make(map[string]int)}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'BLOCKED'),
		       COUNT(*) FILTER (WHERE crisis_alert)
		FROM tips`).Scan(&stats.Total, &stats.Blocked, &stats.CrisisAlerts)
	if err != nil {
		return Stats{}, fmt.Errorf("tip stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM tips WHERE tier <> '' GROUP BY tier`)
	if err != nil {
		return Stats{}, fmt.Errorf("tier stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return Stats{}, fmt.Errorf("scan tier stat: %w", err)
		}
		stats.ByTier[tier] = n
	}
	return stats, rows.Err()
}

func (s *PostgresStore) BundleStats(ctx context.Context) (BundleStats, error) {
	var stats BundleStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'duplicate'),
		       COUNT(*) FILTER (WHERE is_bundled),
		       COALESCE(SUM(bundled_incidents) FILTER (WHERE is_bundled), 0),
		       COUNT(*) FILTER (WHERE COALESCE(jsonb_array_length(aggregate->'links'->'cluster_flags'), 0) > 0)
		FROM tips`).Scan(&stats.TotalTips, &stats.Duplicates, &stats.BundledReports,
		&stats.BundledIncidents, &stats.ClusteredTips)
	if err != nil {
		return BundleStats{}, fmt.Errorf("bundle stats: %w", err)
	}
	return stats, nil
}

// withTip runs fn over the locked, decoded aggregate and writes it back when
// fn reports a change. The row lock serializes concurrent human actions on
// the same tip.
func (s *PostgresStore) withTip(ctx context.Context, tipID string, fn func(tx *sql.Tx, tip *models.Tip) (bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT aggregate FROM tips WHERE tip_id = $1 FOR UPDATE`, tipID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, tipID)
	}
	if err != nil {
		return fmt.Errorf("lock tip %s: %w", tipID, err)
	}
	tip, err := decodeTip(raw)
	if err != nil {
		return err
	}

	changed, err := fn(tx, tip)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := upsertTx(ctx, tx, tip); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) append(ctx context.Context, entry *models.AuditEntry) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Append(ctx, entry); err != nil {
		s.logger.Printf("⚠️ audit append failed for %s: %v", entry.TipID, err)
	}
}

func (s *PostgresStore) emit(ev models.StageEvent) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func decodeTip(raw []byte) (*models.Tip, error) {
	var tip models.Tip
	if err := json.Unmarshal(raw, &tip); err != nil {
		return nil, fmt.Errorf("decode tip aggregate: %w", err)
	}
	return &tip, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
