// Package notify queues outbound notifications for the external collaborator
// (mail/SMS/WhatsApp templating lives there, not here). Dispatch is
// fire-and-forget: the signing transaction never waits on it and a delivery
// failure is logged and dropped, never surfaced to the signer.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event names the lifecycle moment being announced.
type Event struct {
	Kind       string `json:"event_kind"`
	DeliveryID string `json:"delivery_id"`
}

const (
	EventSignatureAdded    = "signature_added"
	EventDeliveryCompleted = "delivery_completed"
)

// Notifier is the external collaborator contract.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Dispatcher decouples signing from notification delivery. Queue never
// blocks: when the buffer is full the event is dropped and counted, because
// losing a notification must never delay or fail a signature.
type Dispatcher struct {
	n       Notifier
	log     *slog.Logger
	ch      chan Event
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	once    sync.Once
	dropped func()
}

// NewDispatcher starts a single worker draining the queue. onDrop is invoked
// for every event discarded because the buffer was full; pass nil to ignore.
func NewDispatcher(n Notifier, log *slog.Logger, buffer int, onDrop func()) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	if onDrop == nil {
		onDrop = func() {}
	}
	d := &Dispatcher{
		n:       n,
		log:     log,
		ch:      make(chan Event, buffer),
		timeout: 10 * time.Second,
		dropped: onDrop,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Queue enqueues an event without blocking. Events queued after Close are
// dropped and counted like buffer overflows.
func (d *Dispatcher) Queue(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.dropped()
		d.log.Warn("notification queue closed, event dropped",
			"event_kind", e.Kind, "delivery_id", e.DeliveryID)
		return
	}
	select {
	case d.ch <- e:
	default:
		d.dropped()
		d.log.Warn("notification queue full, event dropped",
			"event_kind", e.Kind, "delivery_id", e.DeliveryID)
	}
}

// Close drains outstanding events and stops the worker. The mutex orders the
// close against concurrent Queue sends.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.ch)
	})
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.ch {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.n.Notify(ctx, e); err != nil {
			d.log.Warn("notification dispatch failed",
				"event_kind", e.Kind, "delivery_id", e.DeliveryID, "error", err)
		}
		cancel()
	}
}

// Discard is a Notifier for deployments without a notification collaborator.
type Discard struct{}

func (Discard) Notify(context.Context, Event) error { return nil }
