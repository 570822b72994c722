// Package ledger is the client-side contract for the external escrow ledger:
// token authorization, deposit-and-hold under a ledger-issued transfer id,
// single withdrawal by the recorded recipient, and event notifications.
//
// Every state-changing call returns a Submission. The call only submits;
// callers wait on the Submission for finality. A wait that ends before
// finality is indeterminate (ErrConfirmationTimeout), never a failure.
package ledger

import (
	"context"
	"math/big"

	id "remitgate/pkg/domain"
)

// State is the escrow record lifecycle. Funded transitions to Withdrawn
// exactly once and never back.
type State string

const (
	StateFunded    State = "Funded"
	StateWithdrawn State = "Withdrawn"
)

// EscrowRecord is the ledger-owned view of one transfer.
type EscrowRecord struct {
	ID             id.TransferID `json:"transfer_id"`
	Sender         id.Address    `json:"sender"`
	Recipient      id.Address    `json:"recipient"`
	Amount         *big.Int      `json:"amount"`
	FXRate         *big.Int      `json:"fx_rate"`
	SourceCurrency string        `json:"source_currency"`
	TargetCurrency string        `json:"target_currency"`
	State          State         `json:"state"`
}

// DepositRequest is the escrow deposit payload. FXRate is scaled by
// domain.FXRateDecimals as the ledger stores it.
type DepositRequest struct {
	Recipient      id.Address
	Amount         *big.Int
	FXRate         *big.Int
	SourceCurrency id.Currency
	TargetCurrency id.Currency
}

// EventKind names a ledger notification.
type EventKind string

const (
	EventTransferInitiated EventKind = "TransferInitiated"
	EventWithdrawn         EventKind = "Withdrawn"
)

// Event is one ledger notification. Withdrawn carries only TransferID and
// Recipient.
type Event struct {
	Kind           EventKind     `json:"kind"`
	TransferID     id.TransferID `json:"transfer_id"`
	Sender         id.Address    `json:"sender,omitempty"`
	Recipient      id.Address    `json:"recipient"`
	Amount         *big.Int      `json:"amount,omitempty"`
	FXRate         *big.Int      `json:"fx_rate,omitempty"`
	SourceCurrency string        `json:"source_currency,omitempty"`
	TargetCurrency string        `json:"target_currency,omitempty"`
	Ref            string        `json:"ref"`
	Cursor         uint64        `json:"cursor"`
}

// ReceiptStatus is the final outcome of a submission.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// Receipt is the finalized result of a submission.
type Receipt struct {
	Ref    string
	Status ReceiptStatus
	Events []Event
	// Reason is the ledger's revert reason, when it reports one.
	Reason string
}

// TransferInitiated returns the first TransferInitiated event in the receipt.
func (r *Receipt) TransferInitiated() (Event, bool) {
	if r == nil {
		return Event{}, false
	}
	for _, ev := range r.Events {
		if ev.Kind == EventTransferInitiated {
			return ev, true
		}
	}
	return Event{}, false
}

// Submission is an operation accepted by the ledger but not yet final.
type Submission interface {
	// Ref identifies the submission on the ledger (a transaction hash).
	Ref() string
	// Wait blocks until finality or ctx ends. A reverted submission returns
	// the receipt and an error wrapping ErrReverted.
	Wait(ctx context.Context) (*Receipt, error)
}

// Ledger is the escrow ledger client.
type Ledger interface {
	// Authorize allows the escrow to pull up to amount from the signer.
	Authorize(ctx context.Context, signer Signer, amount *big.Int) (Submission, error)
	// Deposit moves the authorized amount into escrow and issues a transfer id,
	// carried by the TransferInitiated event in the receipt.
	Deposit(ctx context.Context, signer Signer, req DepositRequest) (Submission, error)
	// Withdraw releases escrowed funds to the signer, who must be the recorded recipient.
	Withdraw(ctx context.Context, signer Signer, transferID id.TransferID) (Submission, error)
	// Transfer reads an escrow record.
	Transfer(ctx context.Context, transferID id.TransferID) (*EscrowRecord, error)
	// Receipt returns the final receipt for ref, or sentinel.ErrPending.
	Receipt(ctx context.Context, ref string) (*Receipt, error)
	// Events returns finalized notifications at or after cursor, and the
	// cursor to resume from.
	Events(ctx context.Context, cursor uint64) ([]Event, uint64, error)
}
