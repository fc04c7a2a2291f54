package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	MerchantID    string          `json:"merchant_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, merchantID, aggregateType, aggregateID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		MerchantID:    merchantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// OutboxEntry is an event waiting in the outbox table
type OutboxEntry struct {
	ID        string
	EventID   string
	EventType string
	Payload   []byte
	CreatedAt time.Time
	Attempts  int
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Aggregate types
const (
	AggregateWallet      = "wallet"
	AggregateTransaction = "transaction"
	AggregateWithdrawal  = "withdrawal"
)

// Event types
const (
	EventWalletCredited   = "wallet.credited"
	EventWalletDebited    = "wallet.debited"
	EventWalletReserved   = "wallet.reserved"
	EventWalletReleased   = "wallet.released"
	EventWalletSettled    = "wallet.settled"
	EventTopUpInitialized = "topup.initialized"
	EventDriftDetected    = "wallet.drift_detected"

	EventTransactionSucceeded = "transaction.succeeded"
	EventTransactionFailed    = "transaction.failed"

	EventWithdrawalRequested = "withdrawal.requested"
	EventWithdrawalSucceeded = "withdrawal.succeeded"
	EventWithdrawalFailed    = "withdrawal.failed"
)

// WalletMovedData is the data for wallet.* events
type WalletMovedData struct {
	EntryID          string `json:"entry_id,omitempty"`
	EntryType        string `json:"entry_type,omitempty"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Reference        string `json:"reference"`
	Balance          int64  `json:"balance"`
	AvailableBalance int64  `json:"available_balance"`
}

// TransactionData is the data for transaction.* events
type TransactionData struct {
	Reference string `json:"reference"`
	Processor string `json:"processor"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

// WithdrawalData is the data for withdrawal.* events
type WithdrawalData struct {
	Reference  string `json:"reference"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	TransferID string `json:"transfer_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// DriftData is the data for wallet.drift_detected events
type DriftData struct {
	Balance            int64 `json:"balance"`
	AvailableBalance   int64 `json:"available_balance"`
	LedgerSum          int64 `json:"ledger_sum"`
	PendingWithdrawals int64 `json:"pending_withdrawals"`
	BalanceDrift       int64 `json:"balance_drift"`
	AvailableDrift     int64 `json:"available_drift"`
	StaleWithdrawals   int   `json:"stale_withdrawals"`
}
