package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "remitgate/pkg/domain"
)

// Stage names the pipeline step an entry records.
type Stage string

const (
	StageKYC      Stage = "KYC"
	StageAML      Stage = "AML"
	StageDeposit  Stage = "Deposit"
	StageSuccess  Stage = "Success"
	StageError    Stage = "Error"
	StageWithdraw Stage = "Withdraw"
)

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageKYC, StageAML, StageDeposit, StageSuccess, StageError, StageWithdraw:
		return true
	}
	return false
}

// Entry is one immutable audit record. The JSON shape is the persisted format;
// Amount is a decimal string because ledger amounts exceed float precision.
type Entry struct {
	ID         uuid.UUID     `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Sender     id.Address    `json:"sender"`
	Recipient  string        `json:"recipient"`
	Amount     string        `json:"amount"`
	Stage      Stage         `json:"stage"`
	Success    bool          `json:"success"`
	Message    string        `json:"message"`
	TransferID id.TransferID `json:"transfer_id,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
}

// Store is the durable, append-only sink. Implementations must serialize
// concurrent appends and never rewrite an existing entry. ReadAll returns
// entries in append order.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ReadAll(ctx context.Context) ([]Entry, error)
}

// Streamer ships committed entries to secondary consumers (Kafka). It is
// best-effort; the Store is the system of record.
type Streamer interface {
	Stream(ctx context.Context, entries ...Entry) error
	Close() error
}
