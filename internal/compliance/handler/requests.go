package handler

import (
	"strings"

	"remitgate/internal/compliance/models"
	dErrors "remitgate/pkg/domain-errors"
)

// UpsertProfileRequest is the body for PUT /admin/profiles/{address}. The
// external verification process pushes status changes through it.
type UpsertProfileRequest struct {
	Status      string `json:"status"`
	PEP         bool   `json:"pep"`
	Blacklisted bool   `json:"blacklisted"`

	parsedStatus models.Status
}

func (r *UpsertProfileRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Status = strings.TrimSpace(r.Status)
	if r.Status == "" {
		return dErrors.New(dErrors.CodeValidation, "status is required")
	}
	status, err := models.ParseStatus(r.Status)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "status must be one of unverified, pending, verified")
	}
	r.parsedStatus = status
	return nil
}

// FlagRequest is the body for PUT /admin/flags/{role}/{address}.
type FlagRequest struct {
	Reason string `json:"reason"`
}

func (r *FlagRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 256 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 256 characters")
	}
	return nil
}
