package models

import (
	"math/big"
	"time"

	id "remitgate/pkg/domain"
)

// TransferRequest is one settlement attempt as submitted by the caller.
// Fields are raw so that malformed input is rejected, and audited, by the
// service rather than by the transport.
type TransferRequest struct {
	SenderCredential string
	Recipient        string
	Amount           string
	FXRate           string
	SourceCurrency   string
	TargetCurrency   string
}

// ReleaseRequest asks the ledger to pay out an escrowed transfer to its recipient.
type ReleaseRequest struct {
	TransferID       string
	CallerCredential string
}

// Outcome is the caller-facing verdict of Settle or Release.
type Outcome string

const (
	OutcomeCompleted Outcome = "Completed"
	OutcomeRejected  Outcome = "Rejected"
	OutcomeFailed    Outcome = "Failed"
)

// Stage names where a settlement attempt ended.
type Stage string

const (
	StageValidation    Stage = "Validation"
	StageCompliance    Stage = "Compliance"
	StageKYC           Stage = "KYC"
	StageAML           Stage = "AML"
	StageAuthorization Stage = "Authorization"
	StageDeposit       Stage = "Deposit"
	StageWithdraw      Stage = "Withdraw"
	StageAudit         Stage = "Audit"
	StageSuccess       Stage = "Success"
)

// Result is the outcome of one Settle or Release call. Err is a coded
// domain error for Rejected and Failed results and nil for Completed.
type Result struct {
	Outcome    Outcome
	Stage      Stage
	Reason     string
	Err        error
	TransferID id.TransferID
	// Indeterminate marks a ledger submission whose confirmation was not
	// observed. SubmissionRef identifies it for reconciliation.
	Indeterminate bool
	SubmissionRef string
}

func (r *Result) Completed() bool { return r != nil && r.Outcome == OutcomeCompleted }
func (r *Result) Rejected() bool  { return r != nil && r.Outcome == OutcomeRejected }
func (r *Result) Failed() bool    { return r != nil && r.Outcome == OutcomeFailed }

// PendingOp is the kind of submission awaiting reconciliation.
type PendingOp string

const (
	PendingDeposit  PendingOp = "deposit"
	PendingWithdraw PendingOp = "withdraw"
)

// Pending is a ledger submission whose confirmation wait expired. It is
// resolved by reading the submission's receipt, never by resubmitting.
type Pending struct {
	Ref         string        `json:"ref"`
	Op          PendingOp     `json:"op"`
	TransferID  id.TransferID `json:"transfer_id,omitempty"`
	Sender      id.Address    `json:"sender"`
	Recipient   id.Address    `json:"recipient"`
	Amount      *big.Int      `json:"amount"`
	SubmittedAt time.Time     `json:"submitted_at"`
	RequestID   string        `json:"request_id,omitempty"`
}
