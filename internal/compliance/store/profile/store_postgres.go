package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"remitgate/internal/compliance/models"
	id "remitgate/pkg/domain"
	"remitgate/pkg/platform/sentinel"
	txcontext "remitgate/pkg/platform/tx"
)

// PostgresStore reads compliance_profiles. Identities are stored lowercase.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Lookup(ctx context.Context, identity id.Address) (*models.Profile, error) {
	query := `
		SELECT identity, status, pep, blacklisted, updated_at
		FROM compliance_profiles
		WHERE identity = $1
	`
	var (
		p        models.Profile
		identStr string
		status   string
	)
	err := txcontext.Execer(ctx, s.db).QueryRowContext(ctx, query, identity.Lower()).
		Scan(&identStr, &status, &p.PEP, &p.Blacklisted, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find compliance profile: %w", err)
	}
	p.Identity = identity
	p.Status = models.Status(status)
	return &p, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, profile *models.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	query := `
		INSERT INTO compliance_profiles (identity, status, pep, blacklisted, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity) DO UPDATE SET
			status = EXCLUDED.status,
			pep = EXCLUDED.pep,
			blacklisted = EXCLUDED.blacklisted,
			updated_at = EXCLUDED.updated_at
	`
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, query,
		profile.Identity.Lower(),
		string(profile.Status),
		profile.PEP,
		profile.Blacklisted,
		profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert compliance profile: %w", err)
	}
	return nil
}
