package services

import (
	"log"
	"sync"
	"sync/atomic"

	"stockstream/models"
)

// Broadcast hub constants
const (
	broadcastBufferSize  = 256
	DefaultQueueCapacity = 64
)

// Subscriber is a live stream consumer. Events are delivered on Events() in
// publish order; a subscriber that cannot keep up loses its oldest queued
// events first and is forcibly disconnected after sustained overflow.
type Subscriber struct {
	id  uint64
	out chan models.StreamEvent

	// filter is the set of symbols of interest; nil means all symbols.
	// Written by the owning connection, read by the hub.
	filterMu sync.RWMutex
	filter   map[string]bool

	// overflows counts consecutive drop-oldest events. Touched only by the
	// hub goroutine.
	overflows int
}

// Events returns the subscriber's delivery channel. The channel is closed by
// the broadcaster on unsubscribe, forced disconnect, or shutdown.
func (sub *Subscriber) Events() <-chan models.StreamEvent {
	return sub.out
}

// ID returns the subscriber's identifier.
func (sub *Subscriber) ID() uint64 {
	return sub.id
}

// Wants reports whether the subscriber's filter matches the symbol.
func (sub *Subscriber) Wants(symbol string) bool {
	sub.filterMu.RLock()
	defer sub.filterMu.RUnlock()
	if sub.filter == nil {
		return true
	}
	return sub.filter[symbol]
}

// SetFilter replaces the subscriber's symbol filter. A nil filter means all
// symbols.
func (sub *Subscriber) SetFilter(symbols []string) {
	sub.filterMu.Lock()
	defer sub.filterMu.Unlock()
	if symbols == nil {
		sub.filter = nil
		return
	}
	filter := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		filter[s] = true
	}
	sub.filter = filter
}

// AddSymbols adds symbols to the subscriber's filter. On a nil (all-symbols)
// filter this narrows the subscription to just the given symbols.
func (sub *Subscriber) AddSymbols(symbols []string) {
	sub.filterMu.Lock()
	defer sub.filterMu.Unlock()
	if sub.filter == nil {
		sub.filter = make(map[string]bool, len(symbols))
	}
	for _, s := range symbols {
		sub.filter[s] = true
	}
}

// RemoveSymbols removes symbols from the subscriber's filter.
func (sub *Subscriber) RemoveSymbols(symbols []string) {
	sub.filterMu.Lock()
	defer sub.filterMu.Unlock()
	if sub.filter == nil {
		return
	}
	for _, s := range symbols {
		delete(sub.filter, s)
	}
}

// Broadcaster maintains the live subscriber registry and fans out ticks and
// predictions to every subscriber whose filter matches. All registry and
// queue mutations happen on the single hub goroutine, which keeps
// per-subscriber delivery order intact and isolates slow consumers.
type Broadcaster struct {
	queueCapacity int
	overflowLimit int

	subscribers map[uint64]*Subscriber
	nextID      atomic.Uint64

	publish    chan models.StreamEvent
	register   chan *Subscriber
	unregister chan uint64
	shutdown   chan struct{}

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewBroadcaster creates a broadcaster with the given per-subscriber queue
// capacity and consecutive-overflow disconnect limit.
func NewBroadcaster(queueCapacity, overflowLimit int) *Broadcaster {
	if queueCapacity < 1 {
		queueCapacity = DefaultQueueCapacity
	}
	if overflowLimit < 1 {
		overflowLimit = 1
	}
	b := &Broadcaster{
		queueCapacity: queueCapacity,
		overflowLimit: overflowLimit,
		subscribers:   make(map[uint64]*Subscriber),
		publish:       make(chan models.StreamEvent, broadcastBufferSize),
		register:      make(chan *Subscriber),
		unregister:    make(chan uint64),
		shutdown:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe registers a new subscriber with the given symbol filter
// (nil = all symbols) and returns it.
func (b *Broadcaster) Subscribe(symbols []string) *Subscriber {
	sub := &Subscriber{
		id:  b.nextID.Add(1),
		out: make(chan models.StreamEvent, b.queueCapacity),
	}
	sub.SetFilter(symbols)

	select {
	case b.register <- sub:
	case <-b.shutdown:
		close(sub.out)
	}
	return sub
}

// Unsubscribe removes a subscriber and closes its event channel. Safe to call
// concurrently with ongoing broadcasts; unsubscribing twice is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	select {
	case b.unregister <- sub.id:
	case <-b.shutdown:
	}
}

// PublishTick fans a tick out to matching subscribers.
func (b *Broadcaster) PublishTick(tick models.Tick) {
	b.publishEvent(models.TickEvent(tick))
}

// PublishPrediction fans a prediction out to matching subscribers.
func (b *Broadcaster) PublishPrediction(pred models.Prediction) {
	b.publishEvent(models.PredictionEvent(pred))
}

func (b *Broadcaster) publishEvent(event models.StreamEvent) {
	select {
	case b.publish <- event:
	case <-b.shutdown:
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Shutdown stops the hub and closes every subscriber channel.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.shutdown)
	b.wg.Wait()
}

// run is the hub goroutine.
func (b *Broadcaster) run() {
	defer b.wg.Done()

	for {
		select {
		case <-b.shutdown:
			b.mu.Lock()
			for id, sub := range b.subscribers {
				close(sub.out)
				delete(b.subscribers, id)
			}
			b.mu.Unlock()
			return

		case sub := <-b.register:
			b.mu.Lock()
			b.subscribers[sub.id] = sub
			count := len(b.subscribers)
			b.mu.Unlock()
			log.Printf("Subscriber %d connected. Total subscribers: %d", sub.id, count)

		case id := <-b.unregister:
			b.mu.Lock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub.out)
			}
			count := len(b.subscribers)
			b.mu.Unlock()
			log.Printf("Subscriber %d disconnected. Total subscribers: %d", id, count)

		case event := <-b.publish:
			b.deliver(event)
		}
	}
}

// deliver enqueues an event to every matching subscriber, applying the
// drop-oldest backpressure policy. Runs only on the hub goroutine.
func (b *Broadcaster) deliver(event models.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		if !sub.Wants(event.Symbol) {
			continue
		}

		select {
		case sub.out <- event:
			sub.overflows = 0
			continue
		default:
		}

		// Queue full: drop the oldest queued event, favoring freshness
		// over completeness, then retry once.
		select {
		case <-sub.out:
		default:
		}
		select {
		case sub.out <- event:
		default:
		}

		sub.overflows++
		if sub.overflows >= b.overflowLimit {
			delete(b.subscribers, id)
			close(sub.out)
			log.Printf("Subscriber %d force-disconnected after %d consecutive overflows", id, sub.overflows)
		}
	}
}
