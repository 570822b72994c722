package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"remitgate/internal/audit"
	auditmemory "remitgate/internal/audit/store/memory"
	"remitgate/internal/ledger"
	ledgermemory "remitgate/internal/ledger/memory"
	"remitgate/internal/settlement/metrics"
	"remitgate/internal/settlement/mocks"
	"remitgate/internal/settlement/models"
	"remitgate/internal/settlement/store/pending"
	"remitgate/pkg/requestcontext"
)

type ReconcilerSuite struct {
	suite.Suite
	ctx        context.Context
	ledger     *ledgermemory.Ledger
	pending    *pending.InMemory
	store      *auditmemory.InMemoryStore
	metrics    *metrics.Metrics
	reconciler *Reconciler
	signer     ledger.Signer
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = ledgermemory.New(ledgermemory.WithPollInterval(time.Millisecond))
	s.ledger.Mint(senderAddr, big.NewInt(1_000_000))
	s.pending = pending.NewInMemory()
	s.store = auditmemory.NewInMemoryStore()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())

	r, err := NewReconciler(s.ledger, s.pending, audit.NewRecorder(s.store), WithReconcilerMetrics(s.metrics))
	s.Require().NoError(err)
	s.reconciler = r

	signer, err := ledger.ParseCredential(senderKey)
	s.Require().NoError(err)
	s.signer = signer
}

// submitDeposit authorizes and submits a deposit, queuing it as pending
// without waiting for its receipt.
func (s *ReconcilerSuite) submitDeposit(amount int64) models.Pending {
	sub, err := s.ledger.Authorize(s.ctx, s.signer, big.NewInt(amount))
	s.Require().NoError(err)
	_, err = sub.Wait(s.ctx)
	s.Require().NoError(err)

	sub, err = s.ledger.Deposit(s.ctx, s.signer, ledger.DepositRequest{
		Recipient:      recipientAddr,
		Amount:         big.NewInt(amount),
		FXRate:         big.NewInt(10000),
		SourceCurrency: "USD",
		TargetCurrency: "EUR",
	})
	s.Require().NoError(err)

	p := models.Pending{
		Ref:         sub.Ref(),
		Op:          models.PendingDeposit,
		Sender:      senderAddr,
		Recipient:   recipientAddr,
		Amount:      big.NewInt(amount),
		SubmittedAt: time.Now(),
		RequestID:   "req-123",
	}
	s.Require().NoError(s.pending.Save(s.ctx, p))
	return p
}

func (s *ReconcilerSuite) queued() []models.Pending {
	out, err := s.pending.List(s.ctx)
	s.Require().NoError(err)
	return out
}

func (s *ReconcilerSuite) TestNewReconciler() {
	recorder := audit.NewRecorder(s.store)

	_, err := NewReconciler(nil, s.pending, recorder)
	s.ErrorContains(err, "ledger is required")

	_, err = NewReconciler(s.ledger, nil, recorder)
	s.ErrorContains(err, "pending store is required")

	_, err = NewReconciler(s.ledger, s.pending, nil)
	s.ErrorContains(err, "audit recorder is required")
}

func (s *ReconcilerSuite) TestConfirmedDeposit() {
	p := s.submitDeposit(700)

	resolved, err := s.reconciler.ReconcileOnce(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, resolved)
	s.Empty(s.queued())

	entries, err := s.store.ReadAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.StageSuccess, entries[0].Stage)
	s.True(entries[0].Success)
	s.Equal("700", entries[0].Amount)
	s.Equal(uint64(1), uint64(entries[0].TransferID))
	s.Contains(entries[0].Message, "reconciled")
	s.Contains(entries[0].Message, p.Ref)
	s.Equal("req-123", entries[0].RequestID)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Reconciled.WithLabelValues("deposit", "success")))
}

func (s *ReconcilerSuite) TestStillPendingStaysQueued() {
	s.ledger.StallNext(ledgermemory.OpDeposit)
	s.submitDeposit(700)

	resolved, err := s.reconciler.ReconcileOnce(s.ctx)

	s.Require().NoError(err)
	s.Zero(resolved)
	s.Len(s.queued(), 1)
	s.Zero(s.store.Len())

	s.ledger.Unstall()
	resolved, err = s.reconciler.ReconcileOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, resolved)
	s.Empty(s.queued())
}

func (s *ReconcilerSuite) TestRevertedDeposit() {
	s.ledger.FailNext(ledgermemory.OpDeposit, "escrow paused")
	s.submitDeposit(700)

	resolved, err := s.reconciler.ReconcileOnce(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, resolved)
	entries, err := s.store.ReadAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.StageError, entries[0].Stage)
	s.False(entries[0].Success)
	s.Contains(entries[0].Message, "reverted")
	s.Contains(entries[0].Message, "escrow paused")
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Reconciled.WithLabelValues("deposit", "reverted")))
}

func (s *ReconcilerSuite) TestConfirmedWithdraw() {
	s.submitDeposit(700)
	_, err := s.reconciler.ReconcileOnce(s.ctx)
	s.Require().NoError(err)

	recipient, err := ledger.ParseCredential(recipientKey)
	s.Require().NoError(err)
	sub, err := s.ledger.Withdraw(s.ctx, recipient, 1)
	s.Require().NoError(err)
	s.Require().NoError(s.pending.Save(s.ctx, models.Pending{
		Ref:        sub.Ref(),
		Op:         models.PendingWithdraw,
		TransferID: 1,
		Sender:     senderAddr,
		Recipient:  recipientAddr,
		Amount:     big.NewInt(700),
	}))

	resolved, err := s.reconciler.ReconcileOnce(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, resolved)
	entries, err := s.store.ReadAll(s.ctx)
	s.Require().NoError(err)
	last := entries[len(entries)-1]
	s.Equal(audit.StageWithdraw, last.Stage)
	s.True(last.Success)
	s.Equal(uint64(1), uint64(last.TransferID))
}

func (s *ReconcilerSuite) TestAuditFailureKeepsSubmissionQueued() {
	ctrl := gomock.NewController(s.T())
	recorder := mocks.NewMockAuditRecorder(ctrl)
	recorder.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	r, err := NewReconciler(s.ledger, s.pending, recorder)
	s.Require().NoError(err)
	s.submitDeposit(700)

	resolved, err := r.ReconcileOnce(s.ctx)

	s.Require().Error(err)
	s.Contains(err.Error(), "disk full")
	s.Zero(resolved)
	s.Len(s.queued(), 1)
}

func (s *ReconcilerSuite) TestUnknownSubmissionReportsError() {
	s.Require().NoError(s.pending.Save(s.ctx, models.Pending{
		Ref: "0xdeadbeef",
		Op:  models.PendingDeposit,
	}))

	resolved, err := s.reconciler.ReconcileOnce(s.ctx)

	s.Require().Error(err)
	s.Contains(err.Error(), "0xdeadbeef")
	s.Zero(resolved)
	s.Len(s.queued(), 1)
}

func (s *ReconcilerSuite) TestRunStopsOnCancel() {
	r, err := NewReconciler(s.ledger, s.pending, audit.NewRecorder(s.store),
		WithReconcileInterval(5*time.Millisecond))
	s.Require().NoError(err)
	s.submitDeposit(700)

	ctx, cancel := context.WithCancel(requestcontext.WithRequestID(s.ctx, "worker"))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	s.Eventually(func() bool { return len(s.queued()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("reconciler did not stop")
	}
}
