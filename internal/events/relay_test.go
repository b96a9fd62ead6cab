package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipline/backend/internal/models"
)

func startRelay(t *testing.T, ctx context.Context, rdb *redis.Client, bus *Bus) *Relay {
	t.Helper()
	r := NewRelay(rdb, bus, "tipline:test:events")
	go func() { _ = r.Run(ctx) }()
	require.NoError(t, r.WaitReady(ctx))
	return r
}

func TestRelayBridgesTwoInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdbA.Close()
		rdbB.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	busA, busB := NewBus(), NewBus()
	startRelay(t, ctx, rdbA, busA)
	startRelay(t, ctx, rdbB, busB)

	chA, cancelA := busA.SubscribeAll()
	defer cancelA()
	chB, cancelB := busB.SubscribeAll()
	defer cancelB()

	sent := models.StageEvent{
		TipID:     "tip-relay-1",
		Step:      models.StepClassifier,
		Status:    models.EventRunning,
		Detail:    "cross-instance check",
		Timestamp: time.Now().UTC(),
	}
	busA.Publish(sent)

	select {
	case got := <-chA:
		assert.Equal(t, sent.TipID, got.TipID)
	case <-time.After(2 * time.Second):
		t.Fatal("local subscriber never saw the event")
	}

	select {
	case got := <-chB:
		assert.Equal(t, sent.TipID, got.TipID)
		assert.Equal(t, sent.Step, got.Step)
		assert.Equal(t, sent.Status, got.Status)
		assert.Equal(t, sent.Detail, got.Detail)
		assert.True(t, got.Timestamp.Equal(sent.Timestamp))
	case <-time.After(2 * time.Second):
		t.Fatal("remote subscriber never saw the event")
	}

	// The redis echo of our own frame must not replay on the origin bus,
	// and the remote replay must not bounce back out again.
	select {
	case ev := <-chA:
		t.Fatalf("duplicate event on origin bus: %s %s", ev.Step, ev.Status)
	case ev := <-chB:
		t.Fatalf("duplicate event on remote bus: %s %s", ev.Step, ev.Status)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRelayReplayedEventReachesTipSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdbA.Close()
		rdbB.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	busA, busB := NewBus(), NewBus()
	startRelay(t, ctx, rdbA, busA)
	startRelay(t, ctx, rdbB, busB)

	// A per-tip stream on instance B, fed by a pipeline on instance A.
	ch, cancelSub := busB.Subscribe("tip-far-away")
	defer cancelSub()

	busA.Publish(models.StageEvent{
		TipID:  "tip-far-away",
		Step:   models.StepComplete,
		Status: models.EventDone,
		Detail: "IMMEDIATE",
	})

	select {
	case got := <-ch:
		assert.Equal(t, models.StepComplete, got.Step)
		assert.Equal(t, "IMMEDIATE", got.Detail)
		assert.False(t, got.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("tip subscriber on the other instance never saw the event")
	}
}

func TestRelaySurvivesUndecodableFrames(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := NewBus()
	r := startRelay(t, ctx, rdb, bus)

	ch, cancelSub := bus.SubscribeAll()
	defer cancelSub()

	// Garbage on the channel is logged and skipped, not fatal.
	require.NoError(t, rdb.Publish(ctx, r.Channel(), "not json").Err())

	// A well-formed frame from a foreign origin still comes through after.
	frame := `{"origin":"someone-else","event":{"tip_id":"tip-x","step":"intake","status":"running"}}`
	require.NoError(t, rdb.Publish(ctx, r.Channel(), frame).Err())

	select {
	case got := <-ch:
		assert.Equal(t, "tip-x", got.TipID)
		assert.Equal(t, models.StepIntake, got.Step)
	case <-time.After(2 * time.Second):
		t.Fatal("relay stopped consuming after a bad frame")
	}
}
