package amqp

import (
	"encoding/json"
	"time"
)

// Event names carried by balance event messages.
const (
	EventFundsAdded     = "funds_added"
	EventExpenseCreated = "expense_created"
	EventExpenseUpdated = "expense_updated"
	EventExpenseDeleted = "expense_deleted"
)

// BalanceEventMessage notifies downstream consumers that a user's balance
// changed. It carries the resulting balance so consumers do not need to
// read the database.
type BalanceEventMessage struct {
	Event        string    `json:"event"`
	UserID       string    `json:"user_id"`
	ExpenseID    string    `json:"expense_id,omitempty"`
	AmountCents  int64     `json:"amount_cents"`
	BalanceCents int64     `json:"balance_cents"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewBalanceEventMessage creates a balance event for the given user.
// expenseID is empty for funds additions.
func NewBalanceEventMessage(event, userID, expenseID string, amountCents, balanceCents int64) *BalanceEventMessage {
	return &BalanceEventMessage{
		Event:        event,
		UserID:       userID,
		ExpenseID:    expenseID,
		AmountCents:  amountCents,
		BalanceCents: balanceCents,
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *BalanceEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BalanceEventMessageFromJSON creates a message from JSON bytes
func BalanceEventMessageFromJSON(data []byte) (*BalanceEventMessage, error) {
	var msg BalanceEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
