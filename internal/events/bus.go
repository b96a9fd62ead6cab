// Package events fans pipeline stage events out to SSE subscribers.
package events

import (
	"log"
	"sync"
	"time"

	"github.com/tipline/backend/internal/models"
)

const subscriberBuffer = 128

// terminalSendWindow is how long Publish will wait on a slow subscriber for
// a terminal event. Progress events are droppable; the event that ends a
// stream is not, short of a wedged client.
const terminalSendWindow = 100 * time.Millisecond

// Bus is an in-process publish/subscribe hub keyed by tip ID, with wildcard
// subscriptions for dashboards.
type Bus struct {
	mu      sync.RWMutex
	byTip   map[string]map[int]chan models.StageEvent
	all     map[int]chan models.StageEvent
	nextID  int
	forward func(models.StageEvent)
	logger  *log.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		byTip:  make(map[string]map[int]chan models.StageEvent),
		all:    make(map[int]chan models.StageEvent),
		logger: log.New(log.Writer(), "[EventBus] ", log.LstdFlags),
	}
}

// Subscribe registers for one tip's events. The returned cancel function
// unsubscribes and closes the channel; it is safe to call more than once.
// Whichever of cancel and Reset detaches the channel from the index is the
// one that closes it.
func (b *Bus) Subscribe(tipID string) (<-chan models.StageEvent, func()) {
	ch := make(chan models.StageEvent, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.byTip[tipID] == nil {
		b.byTip[tipID] = make(map[int]chan models.StageEvent)
	}
	b.byTip[tipID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := b.byTip[tipID]
		if !ok {
			return
		}
		if _, ok := subs[id]; !ok {
			return
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.byTip, tipID)
		}
		close(ch)
	}
	return ch, cancel
}

// SubscribeAll registers for every tip's events.
func (b *Bus) SubscribeAll() (<-chan models.StageEvent, func()) {
	ch := make(chan models.StageEvent, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.all[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.all[id]; !ok {
			return
		}
		delete(b.all, id)
		close(ch)
	}
	return ch, cancel
}

// Publish delivers an event to the tip's subscribers and all wildcard
// subscribers. Progress events drop when a subscriber is full; terminal
// events get a short grace window before dropping. With a relay attached,
// the event is also handed over for cross-instance delivery.
func (b *Bus) Publish(ev models.StageEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.deliver(ev)

	b.mu.RLock()
	fwd := b.forward
	b.mu.RUnlock()
	if fwd != nil {
		fwd(ev)
	}
}

// publishLocal delivers to subscribers without handing the event to the
// relay. Events that arrived from another instance come through here so
// they cannot bounce back out.
func (b *Bus) publishLocal(ev models.StageEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.deliver(ev)
}

func (b *Bus) deliver(ev models.StageEvent) {
	// Delivery happens under the read lock so a concurrent cancel cannot
	// close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.byTip[ev.TipID] {
		b.send(ch, ev)
	}
	for _, ch := range b.all {
		b.send(ch, ev)
	}
}

func (b *Bus) setForward(fn func(models.StageEvent)) {
	b.mu.Lock()
	b.forward = fn
	b.mu.Unlock()
}

func (b *Bus) send(ch chan models.StageEvent, ev models.StageEvent) {
	if ev.Terminal() {
		select {
		case ch <- ev:
		case <-time.After(terminalSendWindow):
			b.logger.Printf("⚠️ dropped terminal %s event for %s: subscriber wedged", ev.Step, ev.TipID)
		}
		return
	}
	select {
	case ch <- ev:
	default:
		// Slow consumer loses progress events, never the outcome.
	}
}

// SubscriberCount reports active subscriptions for a tip plus wildcards.
func (b *Bus) SubscriberCount(tipID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byTip[tipID]) + len(b.all)
}

// Reset detaches and closes every subscription. Streams see their channel
// close and end; a late cancel finds its channel gone and does nothing.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.byTip {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
	b.byTip = make(map[string]map[int]chan models.StageEvent)
	b.all = make(map[int]chan models.StageEvent)
}
