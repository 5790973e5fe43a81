package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"budgetapp/internal/core"
)

// ExpenseEvent announces a change to one expense. It carries the full record
// so subscribers never need to read the data directory.
type ExpenseEvent struct {
	MessageID string         `json:"message_id"`
	Type      core.EventType `json:"type"`
	Expense   core.Expense   `json:"expense"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewExpenseEvent creates an event with a fresh message id
func NewExpenseEvent(eventType core.EventType, e core.Expense) *ExpenseEvent {
	return &ExpenseEvent{
		MessageID: uuid.NewString(),
		Type:      eventType,
		Expense:   e,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseEventFromJSON creates a message from JSON bytes
func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var msg ExpenseEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
