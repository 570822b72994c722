package ports

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks ComplianceGate,AuditRecorder,PendingStore,EventPublisher

import (
	"context"

	"remitgate/internal/audit"
	compliancemodels "remitgate/internal/compliance/models"
	"remitgate/internal/settlement/models"
)

// ComplianceGate decides whether a transfer may proceed.
type ComplianceGate interface {
	Evaluate(ctx context.Context, req compliancemodels.Request) (*compliancemodels.Decision, error)
}

// AuditRecorder durably appends audit entries. A returned error means the
// entry was not persisted.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// PendingStore holds submissions whose confirmation was not observed.
type PendingStore interface {
	Save(ctx context.Context, p models.Pending) error
	List(ctx context.Context) ([]models.Pending, error)
	Delete(ctx context.Context, ref string) error
}

// CursorStore persists the ledger event relay position.
type CursorStore interface {
	Load(ctx context.Context) (uint64, error)
	Save(ctx context.Context, cursor uint64) error
}

// EventPublisher ships relayed ledger events downstream.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value any) error
}
