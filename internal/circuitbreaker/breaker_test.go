package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func failingCfg(name string, trips uint32) *Config {
	return &Config{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= trips },
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(failingCfg("oracle", 3))
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, errUpstream })
		require.ErrorIs(t, err, errUpstream)
	}
	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New(failingCfg("oracle", 1))
	_, err := cb.Execute(func() (interface{}, error) { return nil, errUpstream })
	require.ErrorIs(t, err, errUpstream)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	res, err := cb.Execute(func() (interface{}, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", res)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(failingCfg("hash-db", 1))
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errUpstream })
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_, _ = cb.Execute(func() (interface{}, error) { return nil, errUpstream })
	assert.Equal(t, StateOpen, cb.State())
}

func TestExecuteWithFallback(t *testing.T) {
	cb := New(failingCfg("hash-db", 1))
	got, err := ExecuteWithFallback(cb,
		func() (string, error) { return "", errUpstream },
		func(err error) (string, error) { return "offline-snapshot", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "offline-snapshot", got)
}

func TestUpstreamBreakersHealth(t *testing.T) {
	u := NewUpstreamBreakers()
	status, detail := u.HealthStatus()
	assert.Equal(t, "HEALTHY", status)
	assert.Len(t, detail, 3)

	for i := 0; i < 5; i++ {
		_, _ = u.HashDB.Execute(func() (interface{}, error) { return nil, errUpstream })
	}
	status, detail = u.HealthStatus()
	assert.Equal(t, "DEGRADED", status)
	assert.Equal(t, "OPEN", detail["hash-db"])
}

func TestAllow(t *testing.T) {
	cb := New(failingCfg("osint", 1))
	assert.NoError(t, cb.Allow())
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errUpstream })
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}
