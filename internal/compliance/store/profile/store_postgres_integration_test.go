//go:build integration

package profile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"remitgate/internal/compliance/models"
	"remitgate/internal/compliance/store/profile"
	"remitgate/internal/platform/postgres"
	id "remitgate/pkg/domain"
	"remitgate/pkg/platform/sentinel"
	"remitgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx      context.Context
	postgres *containers.PostgresContainer
	store    *profile.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.NewPostgresContainer(s.T(), postgres.Schema)
	s.store = profile.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "compliance_profiles"))
}

func (s *PostgresStoreSuite) TestUpsertAndLookup() {
	updated := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.Upsert(s.ctx, &models.Profile{
		Identity:  identity,
		Status:    models.StatusVerified,
		PEP:       true,
		UpdatedAt: updated,
	}))

	p, err := s.store.Lookup(s.ctx, id.Address(identity.Lower()))
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, p.Status)
	s.True(p.PEP)
	s.False(p.Blacklisted)
	s.True(updated.Equal(p.UpdatedAt))
}

func (s *PostgresStoreSuite) TestUpsertReplaces() {
	s.Require().NoError(s.store.Upsert(s.ctx, &models.Profile{Identity: identity, Status: models.StatusVerified}))
	s.Require().NoError(s.store.Upsert(s.ctx, &models.Profile{
		Identity:    identity,
		Status:      models.StatusPending,
		Blacklisted: true,
		UpdatedAt:   time.Now().UTC(),
	}))

	p, err := s.store.Lookup(s.ctx, identity)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, p.Status)
	s.True(p.Blacklisted)
}

func (s *PostgresStoreSuite) TestUnknownIdentity() {
	_, err := s.store.Lookup(s.ctx, identity)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestRejectsUnknownStatus() {
	err := s.store.Upsert(s.ctx, &models.Profile{Identity: identity, Status: models.Status("approved")})
	s.Error(err)
}
