// Package worker processes expense events delivered over AMQP.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"budgetapp/internal/amqp"
	"budgetapp/internal/cache"
	"budgetapp/internal/core"
	applog "budgetapp/internal/log"
)

const (
	seenCacheSize = 1024
	seenCacheTTL  = time.Hour
)

// Stats counts the events a worker has handled.
type Stats struct {
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Deleted    int `json:"deleted"`
	Duplicates int `json:"duplicates"`
	Unknown    int `json:"unknown"`
}

// Total returns the number of events written to the sink.
func (s Stats) Total() int {
	return s.Created + s.Updated + s.Deleted + s.Unknown
}

// EventWorker writes each expense event to a sink as one JSON line.
// Redelivered events (same message id) are written once.
type EventWorker struct {
	logger *applog.Logger
	seen   *cache.LRUCache[struct{}]

	mu    sync.Mutex
	enc   *json.Encoder
	stats Stats
}

func NewEventWorker(sink io.Writer, logger *applog.Logger) *EventWorker {
	return &EventWorker{
		logger: applog.OrDefault(logger, applog.ComponentAMQP),
		seen:   cache.NewLRUCache[struct{}](seenCacheSize, seenCacheTTL),
		enc:    json.NewEncoder(sink),
	}
}

// HandleEvent writes one event. A write failure is returned so the broker
// requeues the delivery.
func (w *EventWorker) HandleEvent(ctx context.Context, event *amqp.ExpenseEvent) error {
	if event.MessageID != "" {
		if _, dup := w.seen.Get(event.MessageID); dup {
			w.mu.Lock()
			w.stats.Duplicates++
			w.mu.Unlock()
			w.logger.DebugContext(ctx, "Skipping redelivered event", "message_id", event.MessageID)
			return nil
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(event); err != nil {
		return fmt.Errorf("write event %s: %w", event.MessageID, err)
	}
	if event.MessageID != "" {
		w.seen.Set(event.MessageID, struct{}{})
	}

	switch event.Type {
	case core.EventExpenseCreated:
		w.stats.Created++
	case core.EventExpenseUpdated:
		w.stats.Updated++
	case core.EventExpenseDeleted:
		w.stats.Deleted++
	default:
		w.stats.Unknown++
		w.logger.WarnContext(ctx, "Unknown event type", applog.FieldEventType, string(event.Type))
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (w *EventWorker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
