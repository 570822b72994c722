package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"remitgate/internal/audit"
	"remitgate/internal/ledger"
	"remitgate/internal/settlement/metrics"
	"remitgate/internal/settlement/models"
	"remitgate/internal/settlement/ports"
	id "remitgate/pkg/domain"
	"remitgate/pkg/platform/sentinel"
	"remitgate/pkg/requestcontext"
)

const (
	DefaultReconcileInterval = 30 * time.Second
	reconciledPrefix         = "reconciled: "
)

// Reconciler resolves submissions whose confirmation wait expired by reading
// their receipts from the ledger. It writes one resolution entry per
// submission and removes it from the pending store only after that entry is
// durable, so an audit outage delays resolution rather than losing it.
type Reconciler struct {
	ledger   ledger.Ledger
	pending  ports.PendingStore
	audit    ports.AuditRecorder
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithReconcilerMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func WithReconcileInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

func NewReconciler(l ledger.Ledger, store ports.PendingStore, recorder ports.AuditRecorder, opts ...ReconcilerOption) (*Reconciler, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if store == nil {
		return nil, errors.New("pending store is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	r := &Reconciler{
		ledger:   l,
		pending:  store,
		audit:    recorder,
		interval: DefaultReconcileInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run reconciles on every tick until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.ReconcileOnce(ctx); err != nil && r.logger != nil {
			r.logger.WarnContext(ctx, "reconciliation pass incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ReconcileOnce makes one pass over pending submissions and returns how many
// were resolved. Submissions still without a final receipt are left queued.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	queued, err := r.pending.List(ctx)
	if err != nil {
		return 0, err
	}
	r.metrics.SetPending(len(queued))

	var (
		resolved int
		errs     []error
	)
	for _, p := range queued {
		if ctx.Err() != nil {
			break
		}
		done, err := r.resolve(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("submission %s: %w", p.Ref, err))
			continue
		}
		if done {
			resolved++
		}
	}
	r.metrics.SetPending(len(queued) - resolved)
	return resolved, errors.Join(errs...)
}

func (r *Reconciler) resolve(ctx context.Context, p models.Pending) (bool, error) {
	receipt, err := r.ledger.Receipt(ctx, p.Ref)
	if errors.Is(err, sentinel.ErrPending) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	entry, status := r.resolutionEntry(p, receipt)
	auditCtx := requestcontext.WithRequestID(context.WithoutCancel(ctx), p.RequestID)
	if err := r.audit.Record(auditCtx, entry); err != nil {
		return false, err
	}
	if err := r.pending.Delete(ctx, p.Ref); err != nil {
		return false, err
	}
	r.metrics.IncrementReconciled(string(p.Op), status)
	if r.logger != nil {
		r.logger.InfoContext(ctx, "submission reconciled",
			"submission", p.Ref,
			"op", p.Op,
			"status", status,
			"transfer_id", entry.TransferID,
			"request_id", p.RequestID,
		)
	}
	return true, nil
}

func (r *Reconciler) resolutionEntry(p models.Pending, receipt *ledger.Receipt) (audit.Entry, string) {
	entry := audit.Entry{
		Sender:     p.Sender,
		Recipient:  p.Recipient.String(),
		Amount:     id.FormatAmount(p.Amount),
		TransferID: p.TransferID,
	}

	if receipt.Status == ledger.ReceiptReverted {
		entry.Stage = audit.StageError
		entry.Message = fmt.Sprintf("%s%s reverted (submission %s)", reconciledPrefix, p.Op, p.Ref)
		if receipt.Reason != "" {
			entry.Message += ": " + receipt.Reason
		}
		return entry, string(ledger.ReceiptReverted)
	}

	switch p.Op {
	case models.PendingDeposit:
		ev, ok := receipt.TransferInitiated()
		if !ok {
			entry.Stage = audit.StageError
			entry.Message = fmt.Sprintf("%sdeposit confirmed without a transfer id (submission %s)", reconciledPrefix, p.Ref)
			return entry, string(ledger.ReceiptSuccess)
		}
		entry.TransferID = ev.TransferID
		entry.Stage = audit.StageSuccess
	case models.PendingWithdraw:
		entry.Stage = audit.StageWithdraw
	}
	entry.Success = true
	entry.Message = fmt.Sprintf("%s%s confirmed after timeout (submission %s)", reconciledPrefix, p.Op, p.Ref)
	return entry, string(ledger.ReceiptSuccess)
}
