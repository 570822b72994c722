// Package settlement sequences a transfer through the compliance gate and the
// escrow ledger, and writes the audit trail for every attempt.
//
// Steps run strictly in order: validation, compliance, token authorization,
// escrow deposit. Each ledger step waits for finality with a bounded wait. A
// wait that expires is reported as indeterminate and queued for the
// Reconciler; the submission is never resent.
//
// Every call produces exactly one terminal audit entry, written before the
// result is returned. Audit writes detach from caller cancellation so a
// dropped connection cannot lose the trail.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"remitgate/internal/audit"
	compliancemodels "remitgate/internal/compliance/models"
	"remitgate/internal/ledger"
	"remitgate/internal/settlement/metrics"
	"remitgate/internal/settlement/models"
	"remitgate/internal/settlement/ports"
	"remitgate/internal/settlement/store/pending"
	id "remitgate/pkg/domain"
	dErrors "remitgate/pkg/domain-errors"
	"remitgate/pkg/platform/sentinel"
	"remitgate/pkg/requestcontext"
)

// DefaultConfirmTimeout bounds each wait for ledger finality.
const DefaultConfirmTimeout = 30 * time.Second

const (
	MessageEscrowFunded      = "escrow funded"
	MessageTransferCompleted = "transfer completed"
	MessageFundsReleased     = "funds released to recipient"
	MessageAlreadyWithdrawn  = "transfer already withdrawn"
)

// Service is safe for concurrent use. Concurrent settlements share only the
// audit recorder and the ledger.
type Service struct {
	gate           ports.ComplianceGate
	ledger         ledger.Ledger
	audit          ports.AuditRecorder
	resolver       ledger.CredentialResolver
	pending        ports.PendingStore
	currencies     id.CurrencySet
	confirmTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCredentialResolver replaces the default hex private key resolver.
func WithCredentialResolver(r ledger.CredentialResolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithPendingStore sets where indeterminate submissions are queued for the
// Reconciler. Defaults to an in-memory store.
func WithPendingStore(p ports.PendingStore) Option {
	return func(s *Service) {
		s.pending = p
	}
}

// WithCurrencies sets the recognized currency codes.
func WithCurrencies(codes ...string) Option {
	return func(s *Service) {
		s.currencies = id.NewCurrencySet(codes...)
	}
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

func New(gate ports.ComplianceGate, l ledger.Ledger, recorder ports.AuditRecorder, opts ...Option) (*Service, error) {
	if gate == nil {
		return nil, errors.New("compliance gate is required")
	}
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	s := &Service{
		gate:           gate,
		ledger:         l,
		audit:          recorder,
		resolver:       ledger.KeyResolver{},
		confirmTimeout: DefaultConfirmTimeout,
		tracer:         otel.Tracer("remitgate/settlement"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pending == nil {
		s.pending = pending.NewInMemory()
	}
	if len(s.currencies) == 0 {
		return nil, errors.New("at least one recognized currency is required")
	}
	return s, nil
}

// transfer is a validated TransferRequest. Raw fields survive a failed parse
// so the audit entry can record what the caller sent.
type transfer struct {
	signer       ledger.Signer
	sender       id.Address
	recipient    id.Address
	amount       *big.Int
	fxRate       id.FXRate
	source       id.Currency
	target       id.Currency
	recipientRaw string
	amountRaw    string
}

func (t *transfer) entry() audit.Entry {
	return audit.Entry{
		Sender:    t.sender,
		Recipient: t.recipientRaw,
		Amount:    t.amountRaw,
	}
}

// Settle runs one transfer end to end and returns Completed with the
// ledger-issued transfer id, Rejected with the denying compliance stage, or
// Failed with the stage that broke.
func (s *Service) Settle(ctx context.Context, req models.TransferRequest) *models.Result {
	ctx, span := s.tracer.Start(ctx, "settlement.settle")
	defer span.End()
	start := time.Now()

	res := s.settle(ctx, req)

	s.observe(ctx, span, "settle", res, start)
	return res
}

func (s *Service) settle(ctx context.Context, req models.TransferRequest) *models.Result {
	t, err := s.parseTransfer(req)
	base := t.entry()
	if err != nil {
		return s.fail(ctx, base, models.StageValidation, err)
	}

	decision, err := s.gate.Evaluate(ctx, compliancemodels.Request{
		Sender:    t.sender,
		Recipient: t.recipient,
		Amount:    t.amount,
	})
	if err != nil {
		return s.fail(ctx, base, models.StageCompliance, err)
	}
	if !decision.Allowed {
		return s.reject(ctx, base, decision)
	}
	for _, outcome := range decision.Stages {
		entry := base
		entry.Stage = audit.Stage(outcome.Stage)
		entry.Success = outcome.Passed
		entry.Message = outcome.Message
		if err := s.record(ctx, entry); err != nil {
			return s.auditFailure(err, 0)
		}
	}

	sub, err := s.ledger.Authorize(ctx, t.signer, t.amount)
	if err != nil {
		return s.fail(ctx, base, models.StageAuthorization,
			dErrors.Wrap(err, dErrors.CodeLedgerAuthorization, "token authorization failed"))
	}
	if _, err := s.await(ctx, "authorize", sub); err != nil {
		if ledger.IsIndeterminate(err) {
			return s.indeterminate(ctx, base, models.StageAuthorization, sub.Ref(), nil)
		}
		return s.fail(ctx, base, models.StageAuthorization,
			dErrors.Wrap(err, dErrors.CodeLedgerAuthorization, "token authorization failed"))
	}

	sub, err = s.ledger.Deposit(ctx, t.signer, ledger.DepositRequest{
		Recipient:      t.recipient,
		Amount:         t.amount,
		FXRate:         t.fxRate.Scaled(),
		SourceCurrency: t.source,
		TargetCurrency: t.target,
	})
	if err != nil {
		return s.fail(ctx, base, models.StageDeposit,
			dErrors.Wrap(err, dErrors.CodeLedgerDeposit, "escrow deposit failed"))
	}
	receipt, err := s.await(ctx, "deposit", sub)
	if err != nil {
		if ledger.IsIndeterminate(err) {
			return s.indeterminate(ctx, base, models.StageDeposit, sub.Ref(), &models.Pending{
				Ref:         sub.Ref(),
				Op:          models.PendingDeposit,
				Sender:      t.sender,
				Recipient:   t.recipient,
				Amount:      t.amount,
				SubmittedAt: requestcontext.Now(ctx),
				RequestID:   requestcontext.RequestID(ctx),
			})
		}
		return s.fail(ctx, base, models.StageDeposit,
			dErrors.Wrap(err, dErrors.CodeLedgerDeposit, "escrow deposit failed"))
	}
	ev, ok := receipt.TransferInitiated()
	if !ok {
		return s.fail(ctx, base, models.StageDeposit,
			dErrors.Wrap(ledger.ErrMissingTransferID, dErrors.CodeLedgerDeposit, "escrow deposit failed"))
	}

	deposited := base
	deposited.Stage = audit.StageDeposit
	deposited.Success = true
	deposited.Message = fmt.Sprintf("%s (submission %s)", MessageEscrowFunded, sub.Ref())
	deposited.TransferID = ev.TransferID
	if err := s.record(ctx, deposited); err != nil {
		return s.auditFailure(err, ev.TransferID)
	}

	done := base
	done.Stage = audit.StageSuccess
	done.Success = true
	done.Message = MessageTransferCompleted
	done.TransferID = ev.TransferID
	if err := s.record(ctx, done); err != nil {
		return s.auditFailure(err, ev.TransferID)
	}

	return &models.Result{
		Outcome:    models.OutcomeCompleted,
		Stage:      models.StageSuccess,
		Reason:     MessageTransferCompleted,
		TransferID: ev.TransferID,
	}
}

// parseTransfer resolves the sender first so later validation failures can
// still be attributed. The returned transfer is never nil.
func (s *Service) parseTransfer(req models.TransferRequest) (*transfer, error) {
	t := &transfer{
		sender:       id.UnknownAddress,
		recipientRaw: strings.TrimSpace(req.Recipient),
		amountRaw:    strings.TrimSpace(req.Amount),
	}

	signer, err := s.resolver.Resolve(req.SenderCredential)
	if err != nil {
		return t, err
	}
	t.signer = signer
	t.sender = signer.Address()

	if t.recipient, err = id.ParseAddress(req.Recipient); err != nil {
		return t, err
	}
	t.recipientRaw = t.recipient.String()
	if t.amount, err = id.ParseAmount(req.Amount); err != nil {
		return t, err
	}
	if t.fxRate, err = id.ParseFXRate(req.FXRate); err != nil {
		return t, err
	}
	if t.source, err = id.ParseCurrency(req.SourceCurrency, s.currencies); err != nil {
		return t, err
	}
	if t.target, err = id.ParseCurrency(req.TargetCurrency, s.currencies); err != nil {
		return t, err
	}
	return t, nil
}

// Release pays an escrowed transfer out to its recorded recipient. Compliance
// is not re-evaluated; it was decided once, at deposit time.
func (s *Service) Release(ctx context.Context, req models.ReleaseRequest) *models.Result {
	ctx, span := s.tracer.Start(ctx, "settlement.release")
	defer span.End()
	start := time.Now()

	res := s.release(ctx, req)

	s.observe(ctx, span, "release", res, start)
	return res
}

func (s *Service) release(ctx context.Context, req models.ReleaseRequest) *models.Result {
	base := audit.Entry{Sender: id.UnknownAddress}

	transferID, err := id.ParseTransferID(req.TransferID)
	if err != nil {
		return s.fail(ctx, base, models.StageValidation, err)
	}
	base.TransferID = transferID

	signer, err := s.resolver.Resolve(req.CallerCredential)
	if err != nil {
		return s.fail(ctx, base, models.StageValidation, err)
	}
	caller := signer.Address()
	base.Recipient = caller.String()

	record, err := s.ledger.Transfer(ctx, transferID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return s.rejectWithdraw(ctx, base, dErrors.CodeNotFound,
			fmt.Sprintf("unknown transfer %s", transferID), err)
	case err != nil:
		return s.fail(ctx, base, models.StageWithdraw,
			dErrors.Wrap(err, dErrors.CodeLedgerWithdraw, "escrow lookup failed"))
	}
	base.Sender = record.Sender
	base.Recipient = record.Recipient.String()
	base.Amount = id.FormatAmount(record.Amount)

	sub, err := s.ledger.Withdraw(ctx, signer, transferID)
	if err != nil {
		return s.withdrawError(ctx, base, caller, err)
	}
	if _, err := s.await(ctx, "withdraw", sub); err != nil {
		if ledger.IsIndeterminate(err) {
			return s.indeterminate(ctx, base, models.StageWithdraw, sub.Ref(), &models.Pending{
				Ref:         sub.Ref(),
				Op:          models.PendingWithdraw,
				TransferID:  transferID,
				Sender:      record.Sender,
				Recipient:   record.Recipient,
				Amount:      record.Amount,
				SubmittedAt: requestcontext.Now(ctx),
				RequestID:   requestcontext.RequestID(ctx),
			})
		}
		return s.withdrawError(ctx, base, caller, err)
	}

	entry := base
	entry.Stage = audit.StageWithdraw
	entry.Success = true
	entry.Message = MessageFundsReleased
	if err := s.record(ctx, entry); err != nil {
		return s.auditFailure(err, transferID)
	}
	return &models.Result{
		Outcome:    models.OutcomeCompleted,
		Stage:      models.StageWithdraw,
		Reason:     MessageFundsReleased,
		TransferID: transferID,
	}
}

// Lookup reads an escrow record from the ledger.
func (s *Service) Lookup(ctx context.Context, transferID id.TransferID) (*ledger.EscrowRecord, error) {
	record, err := s.ledger.Transfer(ctx, transferID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown transfer %s", transferID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "escrow lookup failed")
	}
	return record, nil
}

func (s *Service) withdrawError(ctx context.Context, base audit.Entry, caller id.Address, err error) *models.Result {
	switch {
	case errors.Is(err, ledger.ErrNotRecipient):
		return s.rejectWithdraw(ctx, base, dErrors.CodeNotRecipient,
			fmt.Sprintf("caller %s is not the transfer recipient", caller), err)
	case errors.Is(err, ledger.ErrAlreadyWithdrawn):
		return s.rejectWithdraw(ctx, base, dErrors.CodeAlreadyWithdrawn, MessageAlreadyWithdrawn, err)
	}
	return s.fail(ctx, base, models.StageWithdraw,
		dErrors.Wrap(err, dErrors.CodeLedgerWithdraw, "withdrawal failed"))
}

// reject records the gate's denial as the single terminal entry.
func (s *Service) reject(ctx context.Context, base audit.Entry, decision *compliancemodels.Decision) *models.Result {
	entry := base
	entry.Stage = audit.Stage(decision.Stage)
	entry.Success = false
	entry.Message = decision.Reason
	if err := s.record(ctx, entry); err != nil {
		return s.auditFailure(err, 0)
	}
	return &models.Result{
		Outcome: models.OutcomeRejected,
		Stage:   models.Stage(decision.Stage),
		Reason:  decision.Reason,
		Err:     dErrors.New(dErrors.CodeComplianceDenied, decision.Reason),
	}
}

func (s *Service) rejectWithdraw(ctx context.Context, base audit.Entry, code dErrors.Code, reason string, cause error) *models.Result {
	entry := base
	entry.Stage = audit.StageWithdraw
	entry.Success = false
	entry.Message = reason
	if err := s.record(ctx, entry); err != nil {
		return s.auditFailure(err, base.TransferID)
	}
	return &models.Result{
		Outcome:    models.OutcomeRejected,
		Stage:      models.StageWithdraw,
		Reason:     reason,
		Err:        &dErrors.Error{Code: code, Message: reason, Err: cause},
		TransferID: base.TransferID,
	}
}

// fail records err as the terminal Error entry. err should carry a domain code.
func (s *Service) fail(ctx context.Context, base audit.Entry, stage models.Stage, err error) *models.Result {
	entry := base
	entry.Stage = audit.StageError
	entry.Success = false
	entry.Message = err.Error()
	if recErr := s.record(ctx, entry); recErr != nil {
		return s.auditFailure(recErr, base.TransferID)
	}
	return &models.Result{
		Outcome:    models.OutcomeFailed,
		Stage:      stage,
		Reason:     err.Error(),
		Err:        err,
		TransferID: base.TransferID,
	}
}

// indeterminate records an expired confirmation wait. p, when set, is queued
// for reconciliation before the entry is written.
func (s *Service) indeterminate(ctx context.Context, base audit.Entry, stage models.Stage, ref string, p *models.Pending) *models.Result {
	step := strings.ToLower(string(stage))
	s.metrics.IncrementIndeterminate(step)
	reason := fmt.Sprintf("%s confirmation timed out; outcome indeterminate (submission %s)", step, ref)

	if p != nil {
		if err := s.pending.Save(context.WithoutCancel(ctx), *p); err != nil {
			s.metrics.IncrementQueueFailure(string(p.Op))
			reason += "; not queued for reconciliation"
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "failed to queue submission for reconciliation",
					"submission", ref,
					"op", p.Op,
					"error", err,
				)
			}
		}
	}

	entry := base
	entry.Stage = audit.StageError
	entry.Success = false
	entry.Message = reason
	res := &models.Result{
		Outcome:       models.OutcomeFailed,
		Stage:         stage,
		Reason:        reason,
		Err:           &dErrors.Error{Code: dErrors.CodeLedgerConfirmTimeout, Message: reason, Err: ledger.ErrConfirmationTimeout},
		TransferID:    base.TransferID,
		Indeterminate: true,
		SubmissionRef: ref,
	}
	if err := s.record(ctx, entry); err != nil {
		failed := s.auditFailure(err, base.TransferID)
		failed.Indeterminate = true
		failed.SubmissionRef = ref
		return failed
	}
	return res
}

// auditFailure reports that the trail could not be written. The caller sees a
// failure even when the ledger step behind it succeeded.
func (s *Service) auditFailure(err error, transferID id.TransferID) *models.Result {
	return &models.Result{
		Outcome:    models.OutcomeFailed,
		Stage:      models.StageAudit,
		Reason:     "audit trail unavailable",
		Err:        dErrors.Wrap(err, dErrors.CodeAuditPersistenceError, "audit persistence failed"),
		TransferID: transferID,
	}
}

func (s *Service) record(ctx context.Context, entry audit.Entry) error {
	return s.audit.Record(context.WithoutCancel(ctx), entry)
}

func (s *Service) await(ctx context.Context, step string, sub ledger.Submission) (*ledger.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	start := time.Now()
	receipt, err := sub.Wait(waitCtx)
	s.metrics.ObserveLedgerWait(step, time.Since(start))
	return receipt, err
}

func (s *Service) observe(ctx context.Context, span trace.Span, op string, res *models.Result, start time.Time) {
	s.metrics.IncrementOutcome(op, string(res.Outcome), string(res.Stage))
	s.metrics.ObserveLatency(op, time.Since(start))

	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.String("stage", string(res.Stage)),
		attribute.Bool("indeterminate", res.Indeterminate),
	)
	if !res.TransferID.IsNil() {
		span.SetAttributes(attribute.String("transfer_id", res.TransferID.String()))
	}
	if res.Failed() {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Reason)
	}

	if s.logger == nil {
		return
	}
	attrs := []any{
		"operation", op,
		"outcome", res.Outcome,
		"stage", res.Stage,
		"transfer_id", res.TransferID,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	switch {
	case res.Indeterminate:
		s.logger.WarnContext(ctx, "settlement outcome indeterminate", append(attrs, "submission", res.SubmissionRef)...)
	case res.Failed():
		s.logger.ErrorContext(ctx, "settlement failed", append(attrs, "error", res.Err)...)
	default:
		s.logger.InfoContext(ctx, "settlement finished", append(attrs, "reason", res.Reason)...)
	}
}
