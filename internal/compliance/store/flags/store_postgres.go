package flags

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"remitgate/internal/compliance/models"
	id "remitgate/pkg/domain"
	txcontext "remitgate/pkg/platform/tx"
)

// PostgresStore reads and writes flagged_addresses. Addresses are stored lowercase.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) IsFlagged(ctx context.Context, role models.Role, addr id.Address) (bool, error) {
	flagged, err := s.FlaggedAmong(ctx, role, []id.Address{addr})
	if err != nil {
		return false, err
	}
	return len(flagged) > 0, nil
}

// FlaggedAmong returns the subset of addrs flagged under role in one round trip.
func (s *PostgresStore) FlaggedAmong(ctx context.Context, role models.Role, addrs []id.Address) ([]id.Address, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	byLower := make(map[string]id.Address, len(addrs))
	keys := make([]string, 0, len(addrs))
	for _, a := range addrs {
		byLower[a.Lower()] = a
		keys = append(keys, a.Lower())
	}

	query := `
		SELECT address FROM flagged_addresses
		WHERE role = $1 AND address = ANY($2)
	`
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, query, string(role), pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("query flagged addresses: %w", err)
	}
	defer rows.Close()

	var out []id.Address
	for rows.Next() {
		var lower string
		if err := rows.Scan(&lower); err != nil {
			return nil, fmt.Errorf("scan flagged address: %w", err)
		}
		out = append(out, byLower[lower])
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flagged addresses: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Flag(ctx context.Context, role models.Role, addr id.Address, reason string) error {
	query := `
		INSERT INTO flagged_addresses (address, role, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, role) DO UPDATE SET reason = EXCLUDED.reason
	`
	if _, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, query, addr.Lower(), string(role), reason); err != nil {
		return fmt.Errorf("flag address: %w", err)
	}
	return nil
}

func (s *PostgresStore) Unflag(ctx context.Context, role models.Role, addr id.Address) error {
	query := `DELETE FROM flagged_addresses WHERE address = $1 AND role = $2`
	if _, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, query, addr.Lower(), string(role)); err != nil {
		return fmt.Errorf("unflag address: %w", err)
	}
	return nil
}
