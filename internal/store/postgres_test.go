package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipline/backend/internal/legal"
	"github.com/tipline/backend/internal/models"
)

func TestPostgresGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT aggregate FROM tips WHERE tip_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	s := NewPostgresStore(db, nil, nil)
	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetDecodesAggregate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tip := warrantTip("tip-1")
	raw, err := json.Marshal(tip)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT aggregate FROM tips WHERE tip_id").
		WithArgs("tip-1").
		WillReturnRows(sqlmock.NewRows([]string{"aggregate"}).AddRow(raw))

	s := NewPostgresStore(db, nil, nil)
	got, err := s.Get(context.Background(), "tip-1")
	require.NoError(t, err)
	assert.Equal(t, "tip-1", got.TipID)
	require.Len(t, got.Files, 2)
	assert.True(t, got.Files[0].FileAccessBlocked)
	assert.Equal(t, "9th", got.LegalStatus.RelevantCircuit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertRunsOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tip := warrantTip("tip-1")
	tip.Preservation = []models.PreservationRequest{{
		RequestID: "pr-1", TipID: "tip-1", ESPName: "Instagram",
		Status: models.PreservationDraft, RetentionDays: 90,
	}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tips").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM tip_files").WithArgs("tip-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO tip_files").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tip_files").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM preservation_requests").WithArgs("tip-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO preservation_requests").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewPostgresStore(db, nil, nil)
	require.NoError(t, s.Upsert(context.Background(), tip))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListScansWindowTotal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a, err := json.Marshal(triagedTip("tip-a", models.TierImmediate, time.Now().UTC()))
	require.NoError(t, err)
	b, err := json.Marshal(triagedTip("tip-b", models.TierUrgent, time.Now().UTC()))
	require.NoError(t, err)
	rows := sqlmock.NewRows([]string{"aggregate", "total"}).AddRow(a, 7).AddRow(b, 7)
	mock.ExpectQuery("FROM tips").WillReturnRows(rows)

	s := NewPostgresStore(db, nil, nil)
	res, err := s.List(context.Background(), ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Total)
	require.Len(t, res.Tips, 2)
	assert.Equal(t, "tip-a", res.Tips[0].TipID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaims(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO tip_fingerprints").
		WithArgs("fp-1", "tip-a").
		WillReturnRows(sqlmock.NewRows([]string{"tip_id"}).AddRow("tip-a"))

	claims := NewPostgresClaims(db)
	canonical, fresh, err := claims.Claim(context.Background(), "fp-1", "tip-a")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, "tip-a", canonical)

	// Second submission: the insert hits the conflict and returns no row,
	// then the canonical owner is read back.
	mock.ExpectQuery("INSERT INTO tip_fingerprints").
		WithArgs("fp-1", "tip-b").
		WillReturnRows(sqlmock.NewRows([]string{"tip_id"}))
	mock.ExpectQuery("SELECT tip_id FROM tip_fingerprints").
		WithArgs("fp-1").
		WillReturnRows(sqlmock.NewRows([]string{"tip_id"}).AddRow("tip-a"))

	canonical, fresh, err = claims.Claim(context.Background(), "fp-1", "tip-b")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, "tip-a", canonical)

	mock.ExpectExec("DELETE FROM tip_fingerprints").
		WithArgs("fp-1", "tip-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, claims.Release(context.Background(), "fp-1", "tip-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStatsAggregates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count", "blocked", "crisis"}).AddRow(10, 2, 3))
	mock.ExpectQuery("SELECT tier, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"tier", "count"}).
			AddRow("IMMEDIATE", 3).
			AddRow("STANDARD", 5))

	s := NewPostgresStore(db, nil, nil)
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 2, stats.Blocked)
	assert.Equal(t, 3, stats.CrisisAlerts)
	assert.Equal(t, 3, stats.ByTier["IMMEDIATE"])
	assert.Equal(t, 5, stats.ByTier["STANDARD"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPrecedentStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entered := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	update := legal.PrecedentUpdate{
		UpdateID: "u-1", Circuit: "4th", CaseName: "United States v. Example",
		Citation: "99 F.4th 100 (4th Cir. 2026)", Effect: legal.EffectNowBinding,
		EnteredBy: "counsel", EnteredAt: entered,
	}
	mock.ExpectExec("INSERT INTO circuit_precedent_updates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := NewPostgresPrecedents(db)
	require.NoError(t, p.AppendPrecedent(context.Background(), update))

	rule := legal.Rule{
		Circuit:          "4th",
		Application:      legal.ApplicationStrict,
		BindingPrecedent: "United States v. Example, 99 F.4th 100 (4th Cir. 2026)",
	}
	mock.ExpectExec("INSERT INTO circuit_rule_overrides").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, p.SaveRuleOverride(context.Background(), rule))

	payload, err := json.Marshal(rule)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT rule FROM circuit_rule_overrides").
		WillReturnRows(sqlmock.NewRows([]string{"rule"}).AddRow(payload))
	overrides, err := p.LoadRuleOverrides(context.Background())
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, legal.ApplicationStrict, overrides[0].Application)

	mock.ExpectQuery("FROM circuit_precedent_updates").
		WillReturnRows(sqlmock.NewRows([]string{"update_id", "circuit", "case_name", "citation",
			"holding", "effect", "entered_by", "entered_at"}).
			AddRow("u-1", "4th", "United States v. Example", "99 F.4th 100 (4th Cir. 2026)",
				"", "now_binding", "counsel", entered))
	precedents, err := p.LoadPrecedents(context.Background())
	require.NoError(t, err)
	require.Len(t, precedents, 1)
	assert.Equal(t, legal.EffectNowBinding, precedents[0].Effect)
	assert.NoError(t, mock.ExpectationsWereMet())
}
