package settlement

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"remitgate/internal/audit"
	auditmemory "remitgate/internal/audit/store/memory"
	"remitgate/internal/compliance"
	compliancemodels "remitgate/internal/compliance/models"
	"remitgate/internal/compliance/store/flags"
	"remitgate/internal/compliance/store/profile"
	"remitgate/internal/ledger"
	ledgermemory "remitgate/internal/ledger/memory"
	"remitgate/internal/risk"
	"remitgate/internal/settlement/metrics"
	"remitgate/internal/settlement/mocks"
	"remitgate/internal/settlement/models"
	"remitgate/internal/settlement/ports"
	"remitgate/internal/settlement/store/pending"
	id "remitgate/pkg/domain"
	dErrors "remitgate/pkg/domain-errors"
	"remitgate/pkg/platform/sentinel"
	"remitgate/pkg/requestcontext"
)

// Well-known development keys; never funded outside local ledgers.
const (
	senderKey    = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	recipientKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	strangerKey  = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"

	senderAddr    = id.Address("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	recipientAddr = id.Address("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

var currencies = []string{"USD", "EUR", "NGN"}

type ServiceSuite struct {
	suite.Suite
	ledger   *ledgermemory.Ledger
	profiles *profile.InMemory
	flags    *flags.InMemory
	store    *auditmemory.InMemoryStore
	recorder *audit.Recorder
	pending  *pending.InMemory
	metrics  *metrics.Metrics
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ledger = ledgermemory.New(ledgermemory.WithPollInterval(2 * time.Millisecond))
	s.ledger.Mint(senderAddr, big.NewInt(10_000_000))

	s.profiles = profile.NewInMemory()
	s.flags = flags.NewInMemory()
	s.store = auditmemory.NewInMemoryStore()
	s.recorder = audit.NewRecorder(s.store)
	s.pending = pending.NewInMemory()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())

	gate, err := compliance.New(s.profiles, risk.NewDefaultScorer(), compliance.WithFlagChecker(s.flags))
	s.Require().NoError(err)

	s.service = s.newService(gate, s.recorder)
}

func (s *ServiceSuite) newService(gate ports.ComplianceGate, recorder ports.AuditRecorder) *Service {
	svc, err := New(gate, s.ledger, recorder,
		WithCurrencies(currencies...),
		WithPendingStore(s.pending),
		WithConfirmTimeout(150*time.Millisecond),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) onboard(status compliancemodels.Status, pep bool) {
	s.Require().NoError(s.profiles.Upsert(context.Background(), &compliancemodels.Profile{
		Identity: senderAddr,
		Status:   status,
		PEP:      pep,
	}))
}

func atHour(hour int) context.Context {
	return requestcontext.WithTime(context.Background(), time.Date(2026, 3, 14, hour, 5, 0, 0, time.UTC))
}

func transferOf(amount string) models.TransferRequest {
	return models.TransferRequest{
		SenderCredential: senderKey,
		Recipient:        recipientAddr.String(),
		Amount:           amount,
		FXRate:           "1.1345",
		SourceCurrency:   "usd",
		TargetCurrency:   "NGN",
	}
}

func (s *ServiceSuite) entries() []audit.Entry {
	entries, err := s.store.ReadAll(context.Background())
	s.Require().NoError(err)
	return entries
}

func stages(entries []audit.Entry) []audit.Stage {
	out := make([]audit.Stage, len(entries))
	for i, e := range entries {
		out[i] = e.Stage
	}
	return out
}

func (s *ServiceSuite) TestNew() {
	gate, err := compliance.New(s.profiles, risk.NewDefaultScorer())
	s.Require().NoError(err)

	s.Run("nil gate returns error", func() {
		_, err := New(nil, s.ledger, s.recorder, WithCurrencies(currencies...))
		s.Require().Error(err)
		s.Contains(err.Error(), "compliance gate is required")
	})

	s.Run("nil ledger returns error", func() {
		_, err := New(gate, nil, s.recorder, WithCurrencies(currencies...))
		s.Require().Error(err)
		s.Contains(err.Error(), "ledger is required")
	})

	s.Run("nil recorder returns error", func() {
		_, err := New(gate, s.ledger, nil, WithCurrencies(currencies...))
		s.Require().Error(err)
		s.Contains(err.Error(), "audit recorder is required")
	})

	s.Run("no currencies returns error", func() {
		_, err := New(gate, s.ledger, s.recorder)
		s.Require().Error(err)
		s.Contains(err.Error(), "recognized currency")
	})
}

func (s *ServiceSuite) TestSettleCompletes() {
	s.Run("verified sender with small midday amount completes", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)

		res := s.service.Settle(atHour(12), transferOf("100"))

		s.Require().True(res.Completed(), "unexpected result: %+v", res)
		s.Equal(id.TransferID(1), res.TransferID)
		s.Equal(models.StageSuccess, res.Stage)
		s.NoError(res.Err)

		record, err := s.ledger.Transfer(context.Background(), res.TransferID)
		s.Require().NoError(err)
		s.Equal(ledger.StateFunded, record.State)
		s.Equal(senderAddr, record.Sender)
		s.Equal(recipientAddr, record.Recipient)
		s.Equal(int64(100), record.Amount.Int64())
		s.Equal(int64(11345), record.FXRate.Int64())
		s.Equal("USD", record.SourceCurrency)
		s.Equal("NGN", record.TargetCurrency)
		s.Equal(int64(100), s.ledger.Custody().Int64())

		entries := s.entries()
		s.Equal([]audit.Stage{audit.StageKYC, audit.StageAML, audit.StageDeposit, audit.StageSuccess}, stages(entries))
		for _, e := range entries {
			s.True(e.Success)
			s.Equal(senderAddr, e.Sender)
			s.Equal(recipientAddr.String(), e.Recipient)
			s.Equal("100", e.Amount)
		}
		s.Equal("Risk score accepted (0)", entries[1].Message)
		s.Equal(res.TransferID, entries[2].TransferID)
		s.Equal(res.TransferID, entries[3].TransferID)
		s.Equal(MessageTransferCompleted, entries[3].Message)
	})

	s.Run("high amount alone stays below threshold", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)

		res := s.service.Settle(atHour(12), transferOf("1200000"))

		s.Require().True(res.Completed(), "unexpected result: %+v", res)
		entries := s.entries()
		s.Equal(audit.StageAML, entries[1].Stage)
		s.Equal("Risk score accepted (40): High amount", entries[1].Message)
	})

	s.Run("transfer ids are issued monotonically", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)

		first := s.service.Settle(atHour(12), transferOf("100"))
		second := s.service.Settle(atHour(12), transferOf("200"))

		s.Require().True(first.Completed())
		s.Require().True(second.Completed())
		s.Greater(uint64(second.TransferID), uint64(first.TransferID))
	})
}

func (s *ServiceSuite) TestSettleRejected() {
	s.Run("combined risk factors deny at AML", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)
		s.flags.Seed(compliancemodels.RoleRecipient, recipientAddr.String())

		res := s.service.Settle(atHour(2), transferOf("1200000"))

		s.Require().True(res.Rejected(), "unexpected result: %+v", res)
		s.Equal(models.StageAML, res.Stage)
		s.Equal("Risk score too high (80): High amount, Flagged recipient address, Unusual transaction hour", res.Reason)
		s.True(dErrors.HasCode(res.Err, dErrors.CodeComplianceDenied))

		entries := s.entries()
		s.Require().Len(entries, 1)
		s.Equal(audit.StageAML, entries[0].Stage)
		s.False(entries[0].Success)
		s.Equal(res.Reason, entries[0].Message)

		_, err := s.ledger.Transfer(context.Background(), 1)
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.Zero(s.ledger.Allowance(senderAddr).Sign())
	})

	cases := []struct {
		name   string
		setup  func()
		reason string
	}{
		{
			name:   "unknown identity",
			setup:  func() {},
			reason: "identity not found",
		},
		{
			name:   "pending verification",
			setup:  func() { s.onboard(compliancemodels.StatusPending, false) },
			reason: "identity not verified (status: pending)",
		},
		{
			name:   "unverified identity",
			setup:  func() { s.onboard(compliancemodels.StatusUnverified, false) },
			reason: "identity not verified (status: unverified)",
		},
		{
			name:   "PEP overrides verified status",
			setup:  func() { s.onboard(compliancemodels.StatusVerified, true) },
			reason: "high-risk individual match",
		},
	}
	for _, tc := range cases {
		s.Run("KYC denial: "+tc.name, func() {
			s.SetupTest()
			tc.setup()

			res := s.service.Settle(atHour(12), transferOf("100"))

			s.Require().True(res.Rejected(), "unexpected result: %+v", res)
			s.Equal(models.StageKYC, res.Stage)
			s.Equal(tc.reason, res.Reason)

			entries := s.entries()
			s.Require().Len(entries, 1)
			s.Equal(audit.StageKYC, entries[0].Stage)
			s.False(entries[0].Success)

			s.Zero(s.ledger.Custody().Sign(), "deposit must never be invoked")
			s.Zero(s.ledger.Allowance(senderAddr).Sign(), "authorization must never be invoked")
		})
	}
}

func (s *ServiceSuite) TestSettleValidation() {
	s.Run("missing credential records an unknown sender", func() {
		s.SetupTest()
		req := transferOf("100")
		req.SenderCredential = ""

		res := s.service.Settle(atHour(12), req)

		s.Require().True(res.Failed())
		s.Equal(models.StageValidation, res.Stage)
		s.True(dErrors.HasCode(res.Err, dErrors.CodeValidation))

		entries := s.entries()
		s.Require().Len(entries, 1)
		s.Equal(audit.StageError, entries[0].Stage)
		s.Equal(id.UnknownAddress, entries[0].Sender)
		s.False(entries[0].Success)
	})

	s.Run("malformed credential is not echoed", func() {
		s.SetupTest()
		req := transferOf("100")
		req.SenderCredential = "zz-not-a-key"

		res := s.service.Settle(atHour(12), req)

		s.Require().True(res.Failed())
		s.True(dErrors.HasCode(res.Err, dErrors.CodeInvalidInput))
		entries := s.entries()
		s.Require().Len(entries, 1)
		s.NotContains(entries[0].Message, "zz-not-a-key")
		s.Equal(id.UnknownAddress, entries[0].Sender)
	})

	invalid := []struct {
		name   string
		mutate func(*models.TransferRequest)
	}{
		{"zero amount", func(r *models.TransferRequest) { r.Amount = "0" }},
		{"negative amount", func(r *models.TransferRequest) { r.Amount = "-5" }},
		{"fractional amount", func(r *models.TransferRequest) { r.Amount = "10.5" }},
		{"amount beyond uint256", func(r *models.TransferRequest) {
			r.Amount = new(big.Int).Lsh(big.NewInt(1), 256).String()
		}},
		{"bad recipient", func(r *models.TransferRequest) { r.Recipient = "0x1234" }},
		{"missing fx rate", func(r *models.TransferRequest) { r.FXRate = "" }},
		{"unrecognized source currency", func(r *models.TransferRequest) { r.SourceCurrency = "XYZ" }},
		{"unrecognized target currency", func(r *models.TransferRequest) { r.TargetCurrency = "ABC" }},
	}
	for _, tc := range invalid {
		s.Run(tc.name, func() {
			s.SetupTest()
			s.onboard(compliancemodels.StatusVerified, false)
			req := transferOf("100")
			tc.mutate(&req)

			res := s.service.Settle(atHour(12), req)

			s.Require().True(res.Failed(), "unexpected result: %+v", res)
			s.Equal(models.StageValidation, res.Stage)
			s.True(dErrors.HasCode(res.Err, dErrors.CodeInvalidInput))

			entries := s.entries()
			s.Require().Len(entries, 1)
			s.Equal(audit.StageError, entries[0].Stage)
			s.Equal(senderAddr, entries[0].Sender)
			s.Zero(s.ledger.Custody().Sign())
		})
	}
}

func (s *ServiceSuite) TestSettleLedgerFailures() {
	s.Run("insufficient balance fails the deposit", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)

		res := s.service.Settle(atHour(12), transferOf("20000000"))

		s.Require().True(res.Failed(), "unexpected result: %+v", res)
		s.Equal(models.StageDeposit, res.Stage)
		s.True(dErrors.HasCode(res.Err, dErrors.CodeLedgerDeposit))
		s.ErrorIs(res.Err, ledger.ErrInsufficientBalance)
		s.False(res.Indeterminate)
		s.Equal([]audit.Stage{audit.StageKYC, audit.StageAML, audit.StageError}, stages(s.entries()))
	})

	s.Run("reverted authorization", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)
		s.ledger.FailNext(ledgermemory.OpAuthorize, "token paused")

		res := s.service.Settle(atHour(12), transferOf("100"))

		s.Require().True(res.Failed())
		s.Equal(models.StageAuthorization, res.Stage)
		s.True(dErrors.HasCode(res.Err, dErrors.CodeLedgerAuthorization))
		s.ErrorIs(res.Err, ledger.ErrReverted)
		entries := s.entries()
		s.Equal(audit.StageError, entries[len(entries)-1].Stage)
		s.Contains(entries[len(entries)-1].Message, "token paused")
	})

	s.Run("reverted deposit", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)
		s.ledger.FailNext(ledgermemory.OpDeposit, "escrow paused")

		res := s.service.Settle(atHour(12), transferOf("100"))

		s.Require().True(res.Failed())
		s.Equal(models.StageDeposit, res.Stage)
		s.True(dErrors.HasCode(res.Err, dErrors.CodeLedgerDeposit))
		s.Zero(s.ledger.Custody().Sign())
		s.Equal([]audit.Stage{audit.StageKYC, audit.StageAML, audit.StageError}, stages(s.entries()))
	})

	s.Run("deposit confirmation timeout is indeterminate and queued", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)
		s.ledger.StallNext(ledgermemory.OpDeposit)

		res := s.service.Settle(atHour(12), transferOf("100"))

		s.Require().True(res.Failed())
		s.True(res.Indeterminate)
		s.NotEmpty(res.SubmissionRef)
		s.Equal(models.StageDeposit, res.Stage)
		s.True(dErrors.HasCode(res.Err, dErrors.CodeLedgerConfirmTimeout))
		s.ErrorIs(res.Err, ledger.ErrConfirmationTimeout)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.Indeterminate.WithLabelValues("deposit")))

		entries := s.entries()
		last := entries[len(entries)-1]
		s.Equal(audit.StageError, last.Stage)
		s.Contains(last.Message, "indeterminate")
		s.Contains(last.Message, res.SubmissionRef)

		queued, err := s.pending.List(context.Background())
		s.Require().NoError(err)
		s.Require().Len(queued, 1)
		s.Equal(res.SubmissionRef, queued[0].Ref)
		s.Equal(models.PendingDeposit, queued[0].Op)
		s.Equal(senderAddr, queued[0].Sender)

		// the submission was not rolled back
		s.Equal(int64(100), s.ledger.Custody().Int64())
	})

	s.Run("queue failure is reported in the trail and counted", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)
		s.ledger.StallNext(ledgermemory.OpDeposit)
		ctrl := gomock.NewController(s.T())
		queue := mocks.NewMockPendingStore(ctrl)
		queue.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("redis unavailable"))
		gate, err := compliance.New(s.profiles, risk.NewDefaultScorer(), compliance.WithFlagChecker(s.flags))
		s.Require().NoError(err)
		svc, err := New(gate, s.ledger, s.recorder,
			WithCurrencies(currencies...),
			WithPendingStore(queue),
			WithConfirmTimeout(150*time.Millisecond),
			WithMetrics(s.metrics),
		)
		s.Require().NoError(err)

		res := svc.Settle(atHour(12), transferOf("100"))

		s.Require().True(res.Failed())
		s.True(res.Indeterminate)
		s.Contains(res.Reason, "not queued for reconciliation")
		entries := s.entries()
		s.Contains(entries[len(entries)-1].Message, "not queued for reconciliation")
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.QueueFailures.WithLabelValues("deposit")))
	})

	s.Run("authorization timeout is indeterminate but not queued", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)
		s.ledger.StallNext(ledgermemory.OpAuthorize)

		res := s.service.Settle(atHour(12), transferOf("100"))

		s.Require().True(res.Failed())
		s.True(res.Indeterminate)
		s.Equal(models.StageAuthorization, res.Stage)
		queued, err := s.pending.List(context.Background())
		s.Require().NoError(err)
		s.Empty(queued)
		s.Zero(s.ledger.Custody().Sign())
	})
}

func (s *ServiceSuite) TestSettleCollaboratorFailures() {
	s.Run("gate error is recorded as Error", func() {
		s.SetupTest()
		ctrl := gomock.NewController(s.T())
		gate := mocks.NewMockComplianceGate(ctrl)
		gate.EXPECT().Evaluate(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.Wrap(errors.New("connection refused"), dErrors.CodeInternal, "failed to look up compliance profile"))
		svc := s.newService(gate, s.recorder)

		res := svc.Settle(atHour(12), transferOf("100"))

		s.Require().True(res.Failed())
		s.Equal(models.StageCompliance, res.Stage)
		s.Equal([]audit.Stage{audit.StageError}, stages(s.entries()))
		s.Zero(s.ledger.Allowance(senderAddr).Sign())
	})

	s.Run("audit failure stops before any ledger call", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)
		ctrl := gomock.NewController(s.T())
		recorder := mocks.NewMockAuditRecorder(ctrl)
		recorder.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
		gate, err := compliance.New(s.profiles, risk.NewDefaultScorer())
		s.Require().NoError(err)
		svc := s.newService(gate, recorder)

		res := svc.Settle(atHour(12), transferOf("100"))

		s.Require().True(res.Failed())
		s.Equal(models.StageAudit, res.Stage)
		s.True(dErrors.HasCode(res.Err, dErrors.CodeAuditPersistenceError))
		s.Zero(s.ledger.Allowance(senderAddr).Sign())
		s.Zero(s.ledger.Custody().Sign())
	})

	s.Run("audit failure after deposit still reports the transfer id", func() {
		s.SetupTest()
		s.onboard(compliancemodels.StatusVerified, false)
		ctrl := gomock.NewController(s.T())
		recorder := mocks.NewMockAuditRecorder(ctrl)
		gomock.InOrder(
			recorder.EXPECT().Record(gomock.Any(), gomock.Any()).Return(nil).Times(2),
			recorder.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("disk full")),
		)
		gate, err := compliance.New(s.profiles, risk.NewDefaultScorer())
		s.Require().NoError(err)
		svc := s.newService(gate, recorder)

		res := svc.Settle(atHour(12), transferOf("100"))

		s.Require().True(res.Failed())
		s.Equal(models.StageAudit, res.Stage)
		s.Equal(id.TransferID(1), res.TransferID)
	})

	s.Run("audit writes survive caller cancellation", func() {
		s.SetupTest()
		ctx, cancel := context.WithCancel(atHour(12))
		cancel()

		res := s.service.Settle(ctx, models.TransferRequest{})

		s.Require().True(res.Failed())
		s.Len(s.entries(), 1)
	})
}

// Each goroutine uses its own sender: token authorization replaces the
// previous allowance, so one sender's concurrent deposits would race on it.
func (s *ServiceSuite) TestSettleConcurrent() {
	const n = 12

	credentials := make([]string, n)
	for i := range credentials {
		key, err := crypto.GenerateKey()
		s.Require().NoError(err)
		credentials[i] = hex.EncodeToString(crypto.FromECDSA(key))
		addr := id.AddressFrom(crypto.PubkeyToAddress(key.PublicKey))
		s.ledger.Mint(addr, big.NewInt(1000))
		s.Require().NoError(s.profiles.Upsert(context.Background(), &compliancemodels.Profile{
			Identity: addr,
			Status:   compliancemodels.StatusVerified,
		}))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*models.Result
	)
	for _, credential := range credentials {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := transferOf("1000")
			req.SenderCredential = credential
			res := s.service.Settle(atHour(12), req)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	seen := make(map[id.TransferID]bool, n)
	for _, res := range results {
		s.Require().True(res.Completed(), "unexpected result: %+v", res)
		s.False(seen[res.TransferID], "duplicate transfer id %s", res.TransferID)
		seen[res.TransferID] = true
	}
	s.Len(s.entries(), n*4)
	s.Equal(int64(n*1000), s.ledger.Custody().Int64())
}

func (s *ServiceSuite) settleOne() id.TransferID {
	s.onboard(compliancemodels.StatusVerified, false)
	res := s.service.Settle(atHour(12), transferOf("5000"))
	s.Require().True(res.Completed(), "unexpected result: %+v", res)
	return res.TransferID
}

func (s *ServiceSuite) release(transferID id.TransferID, credential string) *models.Result {
	return s.service.Release(atHour(12), models.ReleaseRequest{
		TransferID:       transferID.String(),
		CallerCredential: credential,
	})
}

func (s *ServiceSuite) TestRelease() {
	s.Run("second withdrawal is rejected as already withdrawn", func() {
		s.SetupTest()
		transferID := s.settleOne()

		first := s.release(transferID, recipientKey)
		s.Require().True(first.Completed(), "unexpected result: %+v", first)
		s.Equal(models.StageWithdraw, first.Stage)
		s.Equal(int64(5000), s.ledger.Balance(recipientAddr).Int64())

		record, err := s.ledger.Transfer(context.Background(), transferID)
		s.Require().NoError(err)
		s.Equal(ledger.StateWithdrawn, record.State)

		second := s.release(transferID, recipientKey)
		s.Require().True(second.Rejected())
		s.Equal(models.StageWithdraw, second.Stage)
		s.True(dErrors.HasCode(second.Err, dErrors.CodeAlreadyWithdrawn))
		s.Equal(int64(5000), s.ledger.Balance(recipientAddr).Int64())

		entries := s.entries()
		withdrawals := entries[len(entries)-2:]
		s.Equal(audit.StageWithdraw, withdrawals[0].Stage)
		s.True(withdrawals[0].Success)
		s.Equal(transferID, withdrawals[0].TransferID)
		s.Equal("5000", withdrawals[0].Amount)
		s.Equal(audit.StageWithdraw, withdrawals[1].Stage)
		s.False(withdrawals[1].Success)
		s.Equal(MessageAlreadyWithdrawn, withdrawals[1].Message)
	})

	s.Run("non-recipient is refused before and after withdrawal", func() {
		s.SetupTest()
		transferID := s.settleOne()

		res := s.release(transferID, strangerKey)
		s.Require().True(res.Rejected())
		s.True(dErrors.HasCode(res.Err, dErrors.CodeNotRecipient))

		s.Require().True(s.release(transferID, recipientKey).Completed())

		res = s.release(transferID, strangerKey)
		s.Require().True(res.Rejected())
		s.True(dErrors.HasCode(res.Err, dErrors.CodeNotRecipient))
	})

	s.Run("unknown transfer", func() {
		s.SetupTest()

		res := s.release(42, recipientKey)

		s.Require().True(res.Rejected())
		s.True(dErrors.HasCode(res.Err, dErrors.CodeNotFound))
		entries := s.entries()
		s.Require().Len(entries, 1)
		s.Equal(audit.StageWithdraw, entries[0].Stage)
		s.False(entries[0].Success)
	})

	s.Run("malformed transfer id", func() {
		s.SetupTest()

		res := s.service.Release(atHour(12), models.ReleaseRequest{TransferID: "abc", CallerCredential: recipientKey})

		s.Require().True(res.Failed())
		s.Equal(models.StageValidation, res.Stage)
		s.Equal([]audit.Stage{audit.StageError}, stages(s.entries()))
	})

	s.Run("reverted withdrawal", func() {
		s.SetupTest()
		transferID := s.settleOne()
		s.ledger.FailNext(ledgermemory.OpWithdraw, "escrow paused")

		res := s.release(transferID, recipientKey)

		s.Require().True(res.Failed())
		s.True(dErrors.HasCode(res.Err, dErrors.CodeLedgerWithdraw))
		s.Zero(s.ledger.Balance(recipientAddr).Sign())
	})

	s.Run("withdraw timeout is queued", func() {
		s.SetupTest()
		transferID := s.settleOne()
		s.ledger.StallNext(ledgermemory.OpWithdraw)

		res := s.release(transferID, recipientKey)

		s.Require().True(res.Failed())
		s.True(res.Indeterminate)
		queued, err := s.pending.List(context.Background())
		s.Require().NoError(err)
		s.Require().Len(queued, 1)
		s.Equal(models.PendingWithdraw, queued[0].Op)
		s.Equal(transferID, queued[0].TransferID)
	})
}

func (s *ServiceSuite) TestReleaseConcurrentExactlyOnce() {
	transferID := s.settleOne()
	const n = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		refused   int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := s.release(transferID, recipientKey)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.Completed():
				completed++
			case res.Rejected() && dErrors.HasCode(res.Err, dErrors.CodeAlreadyWithdrawn):
				refused++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, completed)
	s.Equal(n-1, refused)
	s.Equal(int64(5000), s.ledger.Balance(recipientAddr).Int64())
}
