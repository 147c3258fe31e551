package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fikriaf/ars-sub001/store"
)

// EventKind distinguishes scanner events.
type EventKind string

const (
	EventPaymentDetected EventKind = "payment_detected"
	EventScanFailure     EventKind = "scan_failure"
)

// Event is emitted once per detected payment and once per agent whose
// retries were exhausted.
type Event struct {
	Kind    EventKind              `json:"kind"`
	AgentID string                 `json:"agentId"`
	Payment *store.DetectedPayment `json:"payment,omitempty"`
	Error   string                 `json:"error,omitempty"`
	At      time.Time              `json:"at"`
}

// Notifier receives scanner events. Notify must not block for long.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, e Event) {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	switch e.Kind {
	case EventPaymentDetected:
		log.Info("payment detected", "agent", e.AgentID, "slot", e.Payment.Slot,
			"stealthAddress", e.Payment.StealthAddress, "txRef", e.Payment.TxRef)
	case EventScanFailure:
		log.Error("scan failed after retries", "agent", e.AgentID, "err", e.Error)
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event)

func (f NotifierFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

// MultiNotifier fans an event out to every notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		n.Notify(ctx, e)
	}
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns the number of recorded events of kind.
func (r *Recorder) Count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
