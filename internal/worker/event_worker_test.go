package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"budgetapp/internal/amqp"
	"budgetapp/internal/core"
	applog "budgetapp/internal/log"
)

func event(id string, t core.EventType) *amqp.ExpenseEvent {
	return &amqp.ExpenseEvent{
		MessageID: id,
		Type:      t,
		Expense:   core.Expense{ID: "e1", Amount: 2.5, Description: "tea", Date: "2024-01-10"},
	}
}

func TestEventWorker_HandleEvent(t *testing.T) {
	var buf bytes.Buffer
	w := NewEventWorker(&buf, applog.Nop())
	ctx := context.Background()

	events := []*amqp.ExpenseEvent{
		event("m1", core.EventExpenseCreated),
		event("m2", core.EventExpenseUpdated),
		event("m1", core.EventExpenseCreated),
		event("m3", core.EventExpenseDeleted),
		event("m4", core.EventType("expense.archived")),
	}
	for _, e := range events {
		if err := w.HandleEvent(ctx, e); err != nil {
			t.Fatalf("HandleEvent(%s): %v", e.MessageID, err)
		}
	}

	want := Stats{Created: 1, Updated: 1, Deleted: 1, Duplicates: 1, Unknown: 1}
	if got := w.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != want.Total() {
		t.Fatalf("wrote %d lines, want %d", len(lines), want.Total())
	}
	if !strings.Contains(lines[0], `"message_id":"m1"`) || !strings.Contains(lines[0], `"type":"expense.created"`) {
		t.Errorf("unexpected first line: %s", lines[0])
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestEventWorker_WriteFailureIsRetryable(t *testing.T) {
	w := NewEventWorker(failingWriter{}, applog.Nop())
	ctx := context.Background()

	if err := w.HandleEvent(ctx, event("m1", core.EventExpenseCreated)); err == nil {
		t.Fatal("expected write error")
	}
	// A failed write must not mark the message as seen.
	if err := w.HandleEvent(ctx, event("m1", core.EventExpenseCreated)); err == nil {
		t.Fatal("expected write error on redelivery")
	}
	if got := w.Stats(); got != (Stats{}) {
		t.Errorf("Stats() = %+v, want zero", got)
	}
}
