package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"remitgate/internal/audit"
	id "remitgate/pkg/domain"
	txcontext "remitgate/pkg/platform/tx"
)

// Store implements audit.Store on the insert-only audit_entries table. A
// trigger rejects UPDATE and DELETE; ordering comes from the BIGSERIAL seq,
// which postgres assigns under its own locking so concurrent appends serialize.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts entry. It joins a transaction carried in ctx when present.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	query := `
		INSERT INTO audit_entries (
			id, timestamp, sender, recipient, amount,
			stage, success, message, transfer_id, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	var transferID sql.NullInt64
	if !entry.TransferID.IsNil() {
		transferID = sql.NullInt64{Int64: int64(entry.TransferID), Valid: true}
	}
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.Sender.String(),
		entry.Recipient,
		entry.Amount,
		string(entry.Stage),
		entry.Success,
		entry.Message,
		transferID,
		entry.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ReadAll returns every entry in append order.
func (s *Store) ReadAll(ctx context.Context) ([]audit.Entry, error) {
	query := `
		SELECT id, timestamp, sender, recipient, amount,
			   stage, success, message, transfer_id, request_id
		FROM audit_entries
		ORDER BY seq ASC
	`
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			entry      audit.Entry
			entryID    uuid.UUID
			sender     string
			stage      string
			transferID sql.NullInt64
		)
		if err := rows.Scan(
			&entryID,
			&entry.Timestamp,
			&sender,
			&entry.Recipient,
			&entry.Amount,
			&stage,
			&entry.Success,
			&entry.Message,
			&transferID,
			&entry.RequestID,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ID = entryID
		entry.Sender = id.Address(sender)
		entry.Stage = audit.Stage(stage)
		if transferID.Valid {
			entry.TransferID = id.TransferID(transferID.Int64)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
