package handler

import (
	"remitgate/internal/ledger"
	"remitgate/internal/settlement/models"
	id "remitgate/pkg/domain"
)

const (
	StatusSuccess   = "Success"
	StatusWithdrawn = "Withdrawn"
)

// CompletedResponse is returned for a completed settlement or release.
type CompletedResponse struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
}

// RejectedResponse names the stage that refused the request.
type RejectedResponse struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// FailedResponse reports an execution failure. Indeterminate failures carry
// the submission reference so support can follow the reconciliation.
type FailedResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	Stage         string `json:"stage"`
	TransferID    string `json:"transfer_id,omitempty"`
	Indeterminate bool   `json:"indeterminate,omitempty"`
	Submission    string `json:"submission,omitempty"`
}

// TransferResponse is the ledger's view of one escrow record.
type TransferResponse struct {
	TransferID     string `json:"transfer_id"`
	Sender         string `json:"sender"`
	Recipient      string `json:"recipient"`
	Amount         string `json:"amount"`
	FXRate         string `json:"fx_rate"`
	SourceCurrency string `json:"source_currency"`
	TargetCurrency string `json:"target_currency"`
	State          string `json:"state"`
}

func rejectedFromResult(res *models.Result) *RejectedResponse {
	return &RejectedResponse{Stage: string(res.Stage), Reason: res.Reason}
}

func transferFromRecord(r *ledger.EscrowRecord) *TransferResponse {
	return &TransferResponse{
		TransferID:     r.ID.String(),
		Sender:         r.Sender.String(),
		Recipient:      r.Recipient.String(),
		Amount:         id.FormatAmount(r.Amount),
		FXRate:         id.FXRateFromScaled(r.FXRate).String(),
		SourceCurrency: r.SourceCurrency,
		TargetCurrency: r.TargetCurrency,
		State:          string(r.State),
	}
}
