package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	id "remitgate/pkg/domain"
)

// Status is the identity verification status supplied by the external KYC process.
type Status string

const (
	StatusUnverified Status = "unverified"
	StatusPending    Status = "pending"
	StatusVerified   Status = "verified"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusUnverified, StatusPending, StatusVerified:
		return st, nil
	}
	return "", fmt.Errorf("unknown verification status %q", s)
}

// Profile is the read-only compliance view of one identity.
type Profile struct {
	Identity    id.Address `json:"identity"`
	Status      Status     `json:"status"`
	PEP         bool       `json:"pep"`
	Blacklisted bool       `json:"blacklisted"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Role distinguishes sender and recipient flag sets.
type Role string

const (
	RoleSender    Role = "sender"
	RoleRecipient Role = "recipient"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSender, RoleRecipient:
		return r, nil
	}
	return "", fmt.Errorf("unknown flag role %q", s)
}

// Stage names the gate step that produced a verdict.
type Stage string

const (
	StageKYC Stage = "KYC"
	StageAML Stage = "AML"
)

// StageOutcome is the verdict of one evaluated stage.
type StageOutcome struct {
	Stage   Stage
	Passed  bool
	Message string
}

// Decision is the immutable result of one gate evaluation. Stages lists every
// stage evaluated, in order; the last one produced the verdict.
type Decision struct {
	Allowed     bool
	Stage       Stage
	Reason      string
	Factors     []string
	Score       *int
	RuleVersion string
	EvaluatedAt time.Time
	Stages      []StageOutcome
}

// Request is the gate input.
type Request struct {
	Sender    id.Address
	Recipient id.Address
	Amount    *big.Int
}
