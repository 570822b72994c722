package ports

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks ProfileRepository,FlagChecker

import (
	"context"

	"remitgate/internal/compliance/models"
	id "remitgate/pkg/domain"
)

// ProfileRepository resolves compliance profiles by identity. Lookup returns
// sentinel.ErrNotFound when the identity has never been onboarded.
type ProfileRepository interface {
	Lookup(ctx context.Context, identity id.Address) (*models.Profile, error)
}

// ProfileWriter is implemented by repositories that accept status updates
// pushed by the external verification process.
type ProfileWriter interface {
	Upsert(ctx context.Context, profile *models.Profile) error
}

// FlagChecker answers flag-set membership for an address.
type FlagChecker interface {
	IsFlagged(ctx context.Context, role models.Role, addr id.Address) (bool, error)
}

// FlagWriter maintains flag sets.
type FlagWriter interface {
	Flag(ctx context.Context, role models.Role, addr id.Address, reason string) error
	Unflag(ctx context.Context, role models.Role, addr id.Address) error
}
