package compliance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"remitgate/internal/compliance/metrics"
	"remitgate/internal/compliance/mocks"
	"remitgate/internal/compliance/models"
	"remitgate/internal/compliance/store/flags"
	"remitgate/internal/compliance/store/profile"
	"remitgate/internal/risk"
	id "remitgate/pkg/domain"
	dErrors "remitgate/pkg/domain-errors"
	"remitgate/pkg/platform/sentinel"
	"remitgate/pkg/requestcontext"
)

const (
	sender    = id.Address("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	recipient = id.Address("0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2")
)

type GateSuite struct {
	suite.Suite
	profiles *profile.InMemory
	flags    *flags.InMemory
	gate     *Gate
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.profiles = profile.NewInMemory()
	s.flags = flags.NewInMemory()
	gate, err := New(s.profiles, risk.NewDefaultScorer(),
		WithFlagChecker(s.flags),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
	)
	s.Require().NoError(err)
	s.gate = gate
}

func (s *GateSuite) onboard(status models.Status, pep bool) {
	s.Require().NoError(s.profiles.Upsert(context.Background(), &models.Profile{
		Identity: sender,
		Status:   status,
		PEP:      pep,
	}))
}

func atHour(hour int) context.Context {
	return requestcontext.WithTime(context.Background(), time.Date(2026, 4, 10, hour, 30, 0, 0, time.UTC))
}

func request(amount int64) models.Request {
	return models.Request{Sender: sender, Recipient: recipient, Amount: big.NewInt(amount)}
}

func (s *GateSuite) TestNew() {
	s.Run("nil profile repository returns error", func() {
		_, err := New(nil, risk.NewDefaultScorer())
		s.Require().Error(err)
		s.Contains(err.Error(), "profile repository is required")
	})

	s.Run("nil scorer returns error", func() {
		_, err := New(s.profiles, nil)
		s.Require().Error(err)
		s.Contains(err.Error(), "risk scorer is required")
	})
}

func (s *GateSuite) TestKYCStage() {
	s.Run("unknown identity is denied at KYC", func() {
		d, err := s.gate.Evaluate(atHour(12), request(100))
		s.Require().NoError(err)
		s.False(d.Allowed)
		s.Equal(models.StageKYC, d.Stage)
		s.Equal(ReasonIdentityNotFound, d.Reason)
		s.Nil(d.Score)
	})

	for _, status := range []models.Status{models.StatusUnverified, models.StatusPending} {
		s.Run("status "+string(status)+" is denied at KYC with status in reason", func() {
			s.onboard(status, false)
			d, err := s.gate.Evaluate(atHour(12), request(100))
			s.Require().NoError(err)
			s.False(d.Allowed)
			s.Equal(models.StageKYC, d.Stage)
			s.Contains(d.Reason, string(status))
		})
	}

	s.Run("PEP overrides verified status", func() {
		s.onboard(models.StatusVerified, true)
		d, err := s.gate.Evaluate(atHour(12), request(100))
		s.Require().NoError(err)
		s.False(d.Allowed)
		s.Equal(models.StageKYC, d.Stage)
		s.Equal(ReasonPEPMatch, d.Reason)
		s.Len(d.Stages, 1)
	})
}

func (s *GateSuite) TestAMLStage() {
	s.onboard(models.StatusVerified, false)

	s.Run("clean transfer is allowed with accepted score recorded", func() {
		d, err := s.gate.Evaluate(atHour(12), request(100))
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(models.StageAML, d.Stage)
		s.Require().NotNil(d.Score)
		s.Equal(0, *d.Score)
		s.Equal("Risk score accepted (0)", d.Reason)
		s.Require().Len(d.Stages, 2)
		s.Equal(models.StageKYC, d.Stages[0].Stage)
		s.True(d.Stages[0].Passed)
		s.Equal(models.StageAML, d.Stages[1].Stage)
	})

	s.Run("single high factor stays below threshold", func() {
		d, err := s.gate.Evaluate(atHour(12), request(1_200_000))
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.Equal(40, *d.Score)
		s.Equal([]string{"High amount"}, d.Factors)
	})

	s.Run("combined factors are denied at AML with every factor listed", func() {
		s.Require().NoError(s.flags.Flag(context.Background(), models.RoleRecipient, recipient, "watchlist"))
		defer func() {
			_ = s.flags.Unflag(context.Background(), models.RoleRecipient, recipient)
		}()

		d, err := s.gate.Evaluate(atHour(2), request(1_200_000))
		s.Require().NoError(err)
		s.False(d.Allowed)
		s.Equal(models.StageAML, d.Stage)
		s.Equal(80, *d.Score)
		s.Equal("Risk score too high (80): High amount, Flagged recipient address, Unusual transaction hour", d.Reason)
	})

	s.Run("flagged sender contributes", func() {
		s.flags.Seed(models.RoleSender, sender.Lower())
		defer func() {
			_ = s.flags.Unflag(context.Background(), models.RoleSender, sender)
		}()

		d, err := s.gate.Evaluate(atHour(12), request(100))
		s.Require().NoError(err)
		s.Equal(20, *d.Score)
		s.Equal([]string{"Flagged sender address"}, d.Factors)
	})

	s.Run("blacklisted profile counts as flagged sender", func() {
		s.Require().NoError(s.profiles.Upsert(context.Background(), &models.Profile{
			Identity: sender, Status: models.StatusVerified, Blacklisted: true,
		}))
		defer s.onboard(models.StatusVerified, false)

		d, err := s.gate.Evaluate(atHour(12), request(100))
		s.Require().NoError(err)
		s.Equal(20, *d.Score)
	})

	s.Run("hour is taken from evaluation time in UTC", func() {
		loc := time.FixedZone("UTC+3", 3*60*60)
		ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 4, 10, 8, 0, 0, 0, loc))

		d, err := s.gate.Evaluate(ctx, request(100))
		s.Require().NoError(err)
		s.Equal(15, *d.Score, "08:00 UTC+3 is 05:00 UTC")
	})
}

func (s *GateSuite) TestMalformedInput() {
	tests := map[string]models.Request{
		"missing sender":    {Recipient: recipient, Amount: big.NewInt(1)},
		"missing recipient": {Sender: sender, Amount: big.NewInt(1)},
		"nil amount":        {Sender: sender, Recipient: recipient},
		"zero amount":       {Sender: sender, Recipient: recipient, Amount: big.NewInt(0)},
		"negative amount":   {Sender: sender, Recipient: recipient, Amount: big.NewInt(-5)},
	}
	for name, req := range tests {
		s.Run(name, func() {
			_, err := s.gate.Evaluate(context.Background(), req)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func (s *GateSuite) TestLookupFailures() {
	ctrl := gomock.NewController(s.T())
	defer ctrl.Finish()
	repo := mocks.NewMockProfileRepository(ctrl)
	checker := mocks.NewMockFlagChecker(ctrl)

	gate, err := New(repo, risk.NewDefaultScorer(), WithFlagChecker(checker))
	s.Require().NoError(err)

	s.Run("profile store error is returned, not a denial", func() {
		repo.EXPECT().Lookup(gomock.Any(), sender).Return(nil, errors.New("connection reset"))

		d, err := gate.Evaluate(atHour(12), request(100))
		s.Require().Error(err)
		s.Nil(d)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("not found sentinel becomes KYC denial", func() {
		repo.EXPECT().Lookup(gomock.Any(), sender).Return(nil, sentinel.ErrNotFound)

		d, err := gate.Evaluate(atHour(12), request(100))
		s.Require().NoError(err)
		s.Equal(ReasonIdentityNotFound, d.Reason)
	})

	s.Run("flag lookup error is returned", func() {
		repo.EXPECT().Lookup(gomock.Any(), sender).
			Return(&models.Profile{Identity: sender, Status: models.StatusVerified}, nil)
		checker.EXPECT().IsFlagged(gomock.Any(), models.RoleSender, sender).Return(false, errors.New("timeout"))
		checker.EXPECT().IsFlagged(gomock.Any(), models.RoleRecipient, recipient).Return(false, nil).AnyTimes()

		_, err := gate.Evaluate(atHour(12), request(100))
		s.Require().Error(err)
	})

	s.Run("KYC denial never consults flags", func() {
		repo.EXPECT().Lookup(gomock.Any(), sender).
			Return(&models.Profile{Identity: sender, Status: models.StatusPending}, nil)

		d, err := gate.Evaluate(atHour(12), request(100))
		s.Require().NoError(err)
		s.False(d.Allowed)
	})
}
