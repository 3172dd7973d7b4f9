package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (r *recordingNotifier) Notify(ctx context.Context, e Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingNotifier) seen() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherDeliversQueuedEvents(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDispatcher(n, discardLogger(), 8, nil)
	d.Queue(Event{Kind: EventSignatureAdded, DeliveryID: "dlv_1"})
	d.Queue(Event{Kind: EventDeliveryCompleted, DeliveryID: "dlv_1"})
	d.Close()

	got := n.seen()
	if len(got) != 2 || got[0].Kind != EventSignatureAdded || got[1].Kind != EventDeliveryCompleted {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestDispatcherSwallowsNotifierFailure(t *testing.T) {
	n := &recordingNotifier{err: errors.New("smtp down")}
	d := NewDispatcher(n, discardLogger(), 8, nil)
	d.Queue(Event{Kind: EventSignatureAdded, DeliveryID: "dlv_1"})
	d.Close()

	if len(n.seen()) != 1 {
		t.Fatalf("event not attempted")
	}
}

func TestQueueDropsWhenBufferFull(t *testing.T) {
	block := make(chan struct{})
	n := &recordingNotifier{block: block}
	var dropped int
	d := NewDispatcher(n, discardLogger(), 1, func() { dropped++ })

	// First event occupies the worker, second fills the buffer, the rest drop.
	for i := 0; i < 5; i++ {
		d.Queue(Event{Kind: EventSignatureAdded, DeliveryID: "dlv_1"})
	}
	if dropped == 0 {
		t.Fatalf("expected drops with a full buffer")
	}
	close(block)
	d.Close()
	if got := len(n.seen()); got+dropped != 5 {
		t.Fatalf("delivered %d + dropped %d != 5", got, dropped)
	}
}

func TestWebhookSignsBody(t *testing.T) {
	const secret = "hook-secret"
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		if r.Header.Get("X-Event-Id") == "" {
			t.Errorf("missing X-Event-Id")
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, secret)
	if err := w.Notify(context.Background(), Event{Kind: EventDeliveryCompleted, DeliveryID: "dlv_1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	if gotSig != hex.EncodeToString(mac.Sum(nil)) {
		t.Fatalf("signature mismatch over %s", gotBody)
	}
	if gotType != EventDeliveryCompleted {
		t.Fatalf("wrong event type header: %s", gotType)
	}
}

func TestWebhookRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "s")
	w.Client.Timeout = time.Second
	if err := w.Notify(context.Background(), Event{Kind: EventSignatureAdded, DeliveryID: "dlv_1"}); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestQueueAfterCloseDropsWithoutPanic(t *testing.T) {
	n := &recordingNotifier{}
	var dropped int
	d := NewDispatcher(n, discardLogger(), 8, func() { dropped++ })
	d.Close()

	d.Queue(Event{Kind: EventSignatureAdded, DeliveryID: "dlv_1"})
	if dropped != 1 {
		t.Fatalf("expected 1 drop after close, got %d", dropped)
	}
	if len(n.seen()) != 0 {
		t.Fatalf("event delivered after close: %+v", n.seen())
	}
	// Close is idempotent.
	d.Close()
}
