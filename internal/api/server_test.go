package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/config"
	"github.com/tipline/backend/internal/events"
	"github.com/tipline/backend/internal/handlers"
	"github.com/tipline/backend/internal/ingest"
	"github.com/tipline/backend/internal/legal"
	"github.com/tipline/backend/internal/metrics"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/store"
)

type testStack struct {
	server *Server
	router *mux.Router
	repo   *store.MemoryStore
	log    *audit.MemoryLog
	bus    *events.Bus
	cfg    *config.Config
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	cfg := config.Default()
	cfg.Env = "test"

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	bus := events.NewBus()
	auditLog := audit.NewMemoryLog()
	repo := store.NewMemoryStore(auditLog, bus)
	claims := ingest.NewMemoryClaims()
	queue := ingest.NewMemoryQueue(64, m)
	svc := ingest.NewService(claims, queue, repo, auditLog, m)
	scanner := ingest.NewScanner(repo, auditLog, 0)

	srv := NewServer(Deps{
		Config:   cfg,
		Repo:     repo,
		Audit:    auditLog,
		Bus:      bus,
		Queue:    queue,
		Ingest:   svc,
		Scanner:  scanner,
		Legal:    legal.NewReference(nil),
		Metrics:  m,
		Gatherer: reg,
		Resets:   []handlers.Resettable{repo, auditLog, claims},
	})
	t.Cleanup(func() { srv.limiter.close() })

	return &testStack{
		server: srv,
		router: srv.Router(),
		repo:   repo,
		log:    auditLog,
		bus:    bus,
		cfg:    cfg,
	}
}

func (ts *testStack) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), "body: %s", rec.Body.String())
	return m
}

func seedTip(t *testing.T, ts *testStack, tip *models.Tip) {
	t.Helper()
	require.NoError(t, ts.repo.Upsert(context.Background(), tip))
}

func triagedTip(id string, tier models.Tier) *models.Tip {
	tip := &models.Tip{
		TipID:       id,
		Source:      models.SourcePartnerAPI,
		Status:      models.StatusTriaged,
		ReceivedAt:  time.Now().UTC().Add(-time.Hour),
		RawContent:  "report body",
		ContentType: models.ContentJSON,
		Fingerprint: "fp-" + id,
	}
	if tier != "" {
		tip.Priority = &models.Priority{Score: 70, Tier: tier, RoutingUnit: "icac_task_force"}
	}
	return tip
}

func blockedTip(id string) *models.Tip {
	tip := triagedTip(id, "")
	tip.Status = models.StatusBlocked
	tip.Files = []models.TipFile{{
		FileID:            "f1",
		MediaType:         models.MediaImage,
		ESPViewedMissing:  true,
		WarrantRequired:   true,
		WarrantStatus:     models.WarrantPendingApplication,
		FileAccessBlocked: true,
	}}
	tip.LegalStatus = &models.LegalStatus{
		WarrantRequiredFiles: []string{"f1"},
		RelevantCircuit:      "9th",
		Confidence:           0.95,
	}
	return tip
}

func TestHealth(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeMap(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["db_mode"])
	assert.Equal(t, "stub", body["tool_mode"])
}

func TestQueueGrouping(t *testing.T) {
	ts := newTestStack(t)
	seedTip(t, ts, triagedTip("tip-imm", models.TierImmediate))
	seedTip(t, ts, triagedTip("tip-std", models.TierStandard))
	pending := triagedTip("tip-pending", "")
	pending.Status = models.StatusPending
	seedTip(t, ts, pending)

	rec := ts.do(t, "GET", "/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-Total-Count"))
	assert.Equal(t, "100", rec.Header().Get("X-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-Offset"))

	var grouped map[string][]models.Tip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grouped))
	assert.Len(t, grouped["IMMEDIATE"], 1)
	assert.Len(t, grouped["STANDARD"], 1)
	assert.Len(t, grouped["PENDING"], 1)
	assert.Empty(t, grouped["URGENT"])

	rec = ts.do(t, "GET", "/api/queue?tier=STANDARD", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Total-Count"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grouped))
	assert.Len(t, grouped["STANDARD"], 1)
	assert.Empty(t, grouped["IMMEDIATE"])

	rec = ts.do(t, "GET", "/api/queue?tier=SEVERE", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "GET", "/api/queue?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueuePagination(t *testing.T) {
	ts := newTestStack(t)
	for i := 0; i < 5; i++ {
		seedTip(t, ts, triagedTip(fmt.Sprintf("tip-%d", i), models.TierStandard))
	}

	rec := ts.do(t, "GET", "/api/queue?limit=2&offset=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-Total-Count"))
	assert.Equal(t, "2", rec.Header().Get("X-Limit"))
	assert.Equal(t, "2", rec.Header().Get("X-Offset"))

	var grouped map[string][]models.Tip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grouped))
	assert.Len(t, grouped["STANDARD"], 2)
}

func TestGetTip(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, "GET", "/api/tips/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeMap(t, rec)["error"], "missing")

	seedTip(t, ts, triagedTip("tip-1", models.TierStandard))
	entry := audit.NewEntry("tip-1", models.AgentIntake, models.AuditSuccess, "intake completed")
	require.NoError(t, ts.log.Append(context.Background(), entry))

	rec = ts.do(t, "GET", "/api/tips/tip-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tip models.Tip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tip))
	assert.Equal(t, "tip-1", tip.TipID)
	require.NotEmpty(t, tip.AuditTrail)
	assert.Equal(t, "intake completed", tip.AuditTrail[len(tip.AuditTrail)-1].Summary)
}

func TestAssign(t *testing.T) {
	ts := newTestStack(t)
	seedTip(t, ts, triagedTip("tip-1", models.TierStandard))
	seedTip(t, ts, blockedTip("tip-blocked"))

	rec := ts.do(t, "POST", "/api/tips/tip-1/assign", map[string]string{
		"investigator_id": "det-7", "investigator_name": "Det. Alvarez",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "det-7", body["assigned_to"])

	rec = ts.do(t, "POST", "/api/tips/tip-blocked/assign", map[string]string{"investigator_id": "det-7"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, "POST", "/api/tips/tip-1/assign", map[string]string{"investigator_name": "nameless"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWarrantTransitions(t *testing.T) {
	ts := newTestStack(t)
	seedTip(t, ts, blockedTip("tip-w"))

	rec := ts.do(t, "POST", "/api/tips/tip-w/warrant/f1", map[string]string{
		"status": "granted", "warrant_number": "W-2024-001", "granted_by": "Judge Moreno",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	file := body["file"].(map[string]interface{})
	assert.Equal(t, "granted", file["warrant_status"])
	assert.Equal(t, false, file["file_access_blocked"])

	rec = ts.do(t, "GET", "/api/tips/tip-w", nil)
	var tip models.Tip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tip))
	require.NotNil(t, tip.LegalStatus)
	assert.True(t, tip.LegalStatus.AnyFilesAccessible)

	rec = ts.do(t, "POST", "/api/tips/tip-w/warrant/f1", map[string]string{"status": "revoked"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "POST", "/api/tips/tip-w/warrant/f9", map[string]string{"status": "granted"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestLifecycle(t *testing.T) {
	ts := newTestStack(t)

	payload := map[string]interface{}{
		"source":       "partner-api",
		"content_type": "json",
		"raw_content":  `{"report":"suspicious upload"}`,
	}
	rec := ts.do(t, "POST", "/api/ingest", payload)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	first := decodeMap(t, rec)
	assert.NotEmpty(t, first["tip_id"])
	assert.NotEmpty(t, first["job_id"])

	rec = ts.do(t, "POST", "/api/ingest", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	dup := decodeMap(t, rec)
	assert.Equal(t, true, dup["duplicate"])
	assert.Equal(t, first["tip_id"], dup["duplicate_of"])

	rec = ts.do(t, "POST", "/api/ingest", map[string]string{"source": "partner-api"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRateLimit(t *testing.T) {
	ts := newTestStack(t)

	tooMany := 0
	for i := 0; i < 15; i++ {
		b, _ := json.Marshal(map[string]interface{}{
			"source":       "partner-api",
			"content_type": "json",
			"raw_content":  fmt.Sprintf("distinct report %d", i),
		})
		req := httptest.NewRequest("POST", "/api/ingest", bytes.NewReader(b))
		req.RemoteAddr = "192.0.2.99:1000"
		rec := httptest.NewRecorder()
		ts.router.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			tooMany++
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Greater(t, tooMany, 0, "expected the token bucket to reject some of 15 rapid submissions")
}

func TestTestResetGating(t *testing.T) {
	ts := newTestStack(t)
	seedTip(t, ts, triagedTip("tip-1", models.TierStandard))

	rec := ts.do(t, "POST", "/api/test/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, "GET", "/api/tips/tip-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Outside the test environment the route pretends not to exist.
	ts.cfg.Env = "production"
	rec = ts.do(t, "POST", "/api/test/reset", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrecedentLifecycle(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, "GET", "/api/legal/circuit/VT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := decodeMap(t, rec)
	assert.Equal(t, "2nd", before["circuit"])
	assert.Contains(t, before["summary"], "No controlling authority")

	rec = ts.do(t, "POST", "/api/legal/precedents", map[string]string{
		"circuit":   "2nd",
		"case_name": "United States v. Example",
		"citation":  "99 F.4th 100 (2d Cir. 2026)",
		"effect":    "now_binding",
		"summary":   "Opening unviewed ESP files is a search.",
		"added_by":  "legal-team",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	posted := decodeMap(t, rec)
	assert.Equal(t, true, posted["ok"])
	assert.Equal(t, true, posted["circuit_rules_updated"])
	assert.Equal(t, float64(1), posted["total"])

	rec = ts.do(t, "GET", "/api/legal/circuit/VT", nil)
	after := decodeMap(t, rec)
	assert.Contains(t, after["summary"], "Warrant required")
	assert.Contains(t, after["binding_precedent"], "United States v. Example")
	assert.Len(t, after["precedent_history"], 1)

	rec = ts.do(t, "GET", "/api/legal/precedents", nil)
	listed := decodeMap(t, rec)
	assert.Len(t, listed["precedents"], 1)
	assert.NotEqual(t, "0001-01-01T00:00:00Z", listed["last_updated"])

	entries, err := ts.log.ByAgent(context.Background(), models.AgentPrecedent, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	rec = ts.do(t, "POST", "/api/legal/precedents", map[string]string{"circuit": "2nd", "effect": "now_binding"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "POST", "/api/legal/precedents", map[string]string{
		"circuit": "2nd", "case_name": "X v. Y", "effect": "overturned",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMLATAssessment(t *testing.T) {
	ts := newTestStack(t)

	foreign := triagedTip("tip-intl", models.TierUrgent)
	foreign.Jurisdiction = models.Jurisdiction{
		Primary:   models.JurisdictionInternational,
		Countries: []string{"DE", "XX"},
	}
	seedTip(t, ts, foreign)
	seedTip(t, ts, triagedTip("tip-domestic", models.TierStandard))

	rec := ts.do(t, "GET", "/api/tips/tip-intl/mlat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["needs_mlat"])
	assert.Len(t, body["requests"], 2)

	rec = ts.do(t, "GET", "/api/tips/tip-domestic/mlat", nil)
	body = decodeMap(t, rec)
	assert.Equal(t, false, body["needs_mlat"])
	assert.NotContains(t, body, "requests")
}

func TestStatsEndpoints(t *testing.T) {
	ts := newTestStack(t)
	seedTip(t, ts, triagedTip("tip-1", models.TierStandard))
	seedTip(t, ts, blockedTip("tip-2"))
	bundled := triagedTip("tip-3", models.TierUrgent)
	bundled.IsBundled = true
	bundled.BundledIncidentCount = 4
	seedTip(t, ts, bundled)

	rec := ts.do(t, "GET", "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	require.Contains(t, body, "queue")
	tips := body["tips"].(map[string]interface{})
	assert.Equal(t, float64(3), tips["total"])
	assert.Equal(t, float64(1), tips["blocked"])

	rec = ts.do(t, "GET", "/api/bundles/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bundles := decodeMap(t, rec)
	assert.Equal(t, float64(3), bundles["total_tips"])
	assert.Equal(t, float64(1), bundles["bundled_reports"])
	assert.Equal(t, float64(4), bundles["bundled_incidents"])
}

func TestCrisisAndClusterViews(t *testing.T) {
	ts := newTestStack(t)

	crisis := triagedTip("tip-crisis", models.TierImmediate)
	crisis.Priority.VictimCrisisAlert = true
	seedTip(t, ts, crisis)

	clustered := triagedTip("tip-cluster", models.TierStandard)
	clustered.Links = &models.Links{ClusterFlags: []string{"username:shadowfax"}}
	seedTip(t, ts, clustered)

	rec := ts.do(t, "GET", "/api/crisis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tips []models.Tip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tips))
	require.Len(t, tips, 1)
	assert.Equal(t, "tip-crisis", tips[0].TipID)

	rec = ts.do(t, "GET", "/api/clusters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tips))
	require.Len(t, tips, 1)
	assert.Equal(t, "tip-cluster", tips[0].TipID)
}

func TestClusterScanJob(t *testing.T) {
	ts := newTestStack(t)
	for i := 0; i < 3; i++ {
		tip := triagedTip(fmt.Sprintf("tip-ring-%d", i), models.TierStandard)
		tip.Entities = &models.ExtractedEntities{Usernames: []string{"shadowfax"}}
		seedTip(t, ts, tip)
	}

	rec := ts.do(t, "POST", "/api/jobs/cluster-scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report ingest.ScanReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEmpty(t, report.ScanID)
	assert.Equal(t, 1, report.Clusters)
	assert.Equal(t, 3, report.Escalations)
	assert.Empty(t, report.Errors)

	got, err := ts.repo.Get(context.Background(), "tip-ring-0")
	require.NoError(t, err)
	assert.Equal(t, models.TierUrgent, got.Priority.Tier)
	require.NotNil(t, got.Links)
	assert.Contains(t, got.Links.ClusterFlags, "username:shadowfax")
}

func TestHandoffFlow(t *testing.T) {
	ts := newTestStack(t)
	seedTip(t, ts, triagedTip("tip-1", models.TierUrgent))
	seedTip(t, ts, blockedTip("tip-blocked"))

	rec := ts.do(t, "POST", "/api/tips/tip-1/handoff", map[string]string{
		"tool": "griffeye", "officer_id": "off-9", "notes": "full export",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	handoff := body["handoff"].(map[string]interface{})
	assert.Equal(t, "griffeye", handoff["tool"])
	assert.NotEmpty(t, handoff["handoff_id"])

	rec = ts.do(t, "GET", "/api/tips/tip-1/handoffs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeMap(t, rec)
	assert.Equal(t, float64(1), listed["total"])

	rec = ts.do(t, "POST", "/api/tips/tip-blocked/handoff", map[string]string{
		"tool": "griffeye", "officer_id": "off-9",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, "POST", "/api/tips/tip-1/handoff", map[string]string{"officer_id": "off-9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreservationIssue(t *testing.T) {
	ts := newTestStack(t)
	tip := triagedTip("tip-1", models.TierUrgent)
	tip.Preservation = []models.PreservationRequest{{
		RequestID:     "pr-1",
		TipID:         "tip-1",
		ESPName:       "ExampleHost",
		AutoGenerated: true,
		RetentionDays: 90,
		Deadline:      time.Now().UTC().Add(90 * 24 * time.Hour),
		Status:        models.PreservationDraft,
	}}
	seedTip(t, ts, tip)

	// No body at all; the approver is optional.
	req := httptest.NewRequest("POST", "/api/preservation/pr-1/issue", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pr-1", body["request_id"])
	assert.NotEmpty(t, body["issued_at"])

	rec = ts.do(t, "POST", "/api/preservation/pr-404/issue", map[string]string{"approved_by": "sgt-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamTerminalSnapshot(t *testing.T) {
	ts := newTestStack(t)
	seedTip(t, ts, triagedTip("tip-done", models.TierStandard))

	rec := ts.do(t, "GET", "/api/tips/tip-done/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"type":"connected"`)
	assert.Contains(t, body, `"step":"complete"`)
	assert.Contains(t, body, "STANDARD")
}

func TestStreamBlockedSnapshot(t *testing.T) {
	ts := newTestStack(t)
	seedTip(t, ts, blockedTip("tip-blocked"))

	rec := ts.do(t, "GET", "/api/tips/tip-blocked/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"step":"blocked"`)
}

func TestStreamLive(t *testing.T) {
	ts := newTestStack(t)
	pending := triagedTip("tip-live", "")
	pending.Status = models.StatusPending
	seedTip(t, ts, pending)

	hts := httptest.NewServer(ts.router)
	defer hts.Close()

	resp, err := http.Get(hts.URL + "/api/tips/tip-live/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				frames <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(frames)
	}()

	nextFrame := func() string {
		select {
		case f, open := <-frames:
			require.True(t, open, "stream closed early")
			return f
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for SSE frame")
			return ""
		}
	}

	assert.Contains(t, nextFrame(), `"type":"connected"`)

	require.Eventually(t, func() bool {
		return ts.bus.SubscriberCount("tip-live") > 0
	}, time.Second, 10*time.Millisecond)

	ts.bus.Publish(models.StageEvent{TipID: "tip-live", Step: models.StepIntake, Status: models.EventRunning})
	assert.Contains(t, nextFrame(), `"step":"intake"`)

	ts.bus.Publish(models.StageEvent{TipID: "tip-live", Step: models.StepComplete, Status: models.EventDone, Detail: "STANDARD"})
	assert.Contains(t, nextFrame(), `"step":"complete"`)

	select {
	case _, open := <-frames:
		assert.False(t, open, "expected stream to close after the terminal event")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after the terminal event")
	}
}

func TestRouterErrorShapes(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, "GET", "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeMap(t, rec)["error"])

	rec = ts.do(t, "DELETE", "/api/queue", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method not allowed", decodeMap(t, rec)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tipline_active_tips")
}
