package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHelpers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordIngest("ncmec_cybertip")
	m.RecordIngest("ncmec_cybertip")
	m.RecordCompletion("IMMEDIATE")
	m.RecordStage("classifier", 120*time.Millisecond, true)
	m.RecordOracle("classifier", "success", 2)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TipsIngested.WithLabelValues("ncmec_cybertip")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TipsCompleted.WithLabelValues("IMMEDIATE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageFailures.WithLabelValues("classifier")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OracleCalls.WithLabelValues("classifier", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.OracleRetries))
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordIngest("public_form")
	m.RecordStage("intake", time.Millisecond, false)
	m.RecordOracle("intake", "error", 0)
	m.RecordCompletion("STANDARD")
}
