package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tipline/backend/internal/models"
)

const (
	defaultRelayChannel = "tipline:events"
	relayOutboundBuffer = 256
)

// relayFrame carries a stage event plus the identity of the instance that
// published it. Redis echoes published messages back to every subscriber,
// the publisher included, so the origin tag is what stops a frame from
// being re-delivered on the instance it came from.
type relayFrame struct {
	Origin string            `json:"origin"`
	Event  models.StageEvent `json:"event"`
}

// Relay mirrors stage events between instances over redis pub/sub. The
// in-process Bus only reaches SSE subscribers connected to the same
// instance; with a relay attached, a dashboard streaming from instance B
// still sees the pipeline running on instance A.
type Relay struct {
	rdb     *redis.Client
	bus     *Bus
	channel string
	origin  string
	out     chan models.StageEvent
	ready   chan struct{}
	logger  *log.Logger
}

// NewRelay attaches a relay to bus. Nothing moves until Run is called.
func NewRelay(rdb *redis.Client, bus *Bus, channel string) *Relay {
	if channel == "" {
		channel = defaultRelayChannel
	}
	r := &Relay{
		rdb:     rdb,
		bus:     bus,
		channel: channel,
		origin:  uuid.New().String(),
		out:     make(chan models.StageEvent, relayOutboundBuffer),
		ready:   make(chan struct{}),
		logger:  log.New(log.Writer(), "[EventRelay] ", log.LstdFlags),
	}
	bus.setForward(r.enqueue)
	return r
}

// Channel reports the redis channel frames travel on.
func (r *Relay) Channel() string { return r.channel }

// WaitReady blocks until the relay's subscription is live, so a caller can
// publish knowing the frame will not fall into the gap before SUBSCRIBE
// lands.
func (r *Relay) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run pumps frames in both directions until ctx is cancelled: locally
// published events go out to redis, frames from other instances come in
// and replay onto the local bus.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	close(r.ready)
	in := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.out:
			r.publish(ctx, ev)
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			r.receive(msg.Payload)
		}
	}
}

// enqueue is the bus's forward hook. It must not block the pipeline, so a
// full outbound buffer drops the frame; the local delivery has already
// happened by the time this runs.
func (r *Relay) enqueue(ev models.StageEvent) {
	select {
	case r.out <- ev:
	default:
		r.logger.Printf("⚠️ outbound buffer full, dropped %s event for %s", ev.Step, ev.TipID)
	}
}

func (r *Relay) publish(ctx context.Context, ev models.StageEvent) {
	payload, err := json.Marshal(relayFrame{Origin: r.origin, Event: ev})
	if err != nil {
		r.logger.Printf("⚠️ marshal frame for %s: %v", ev.TipID, err)
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		// Local subscribers already have the event; only remote dashboards
		// miss this frame.
		r.logger.Printf("⚠️ publish to %s failed: %v", r.channel, err)
	}
}

func (r *Relay) receive(payload string) {
	var frame relayFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		r.logger.Printf("⚠️ dropped undecodable frame: %v", err)
		return
	}
	if frame.Origin == r.origin {
		return
	}
	r.bus.publishLocal(frame.Event)
}
