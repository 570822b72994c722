package handler

import (
	"bytes"
	"encoding/json"
	"strings"

	dErrors "remitgate/pkg/domain-errors"
)

// looseString accepts a JSON string or a bare number, keeping the number's
// literal text so large amounts never pass through float64.
type looseString string

func (l *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = looseString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*l = looseString(n.String())
	return nil
}

// SettleRequest is the HTTP request body for POST /transfers. Field values
// are checked by the settlement service so that rejections are audited.
type SettleRequest struct {
	SenderCredential string      `json:"sender_credential"`
	Recipient        string      `json:"recipient"`
	Amount           looseString `json:"amount"`
	FXRate           looseString `json:"fx_rate"`
	SourceCurrency   string      `json:"source_currency"`
	TargetCurrency   string      `json:"target_currency"`
}

// Validate normalizes the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *SettleRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.SenderCredential = strings.TrimSpace(r.SenderCredential)
	r.Recipient = strings.TrimSpace(r.Recipient)
	r.Amount = looseString(strings.TrimSpace(string(r.Amount)))
	r.FXRate = looseString(strings.TrimSpace(string(r.FXRate)))
	r.SourceCurrency = strings.TrimSpace(r.SourceCurrency)
	r.TargetCurrency = strings.TrimSpace(r.TargetCurrency)
	return nil
}

// ReleaseRequest is the HTTP request body for POST /transfers/{id}/release.
type ReleaseRequest struct {
	CallerCredential string `json:"caller_credential"`
}

// Validate normalizes the request.
func (r *ReleaseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.CallerCredential = strings.TrimSpace(r.CallerCredential)
	return nil
}
