package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remitgate/pkg/platform/sentinel"
)

// ReceiptFetcher returns the final receipt for ref or sentinel.ErrPending.
type ReceiptFetcher func(ctx context.Context, ref string) (*Receipt, error)

// PollingSubmission waits for finality by polling a ReceiptFetcher.
type PollingSubmission struct {
	ref      string
	fetch    ReceiptFetcher
	interval time.Duration
}

// NewPollingSubmission polls fetch every interval.
func NewPollingSubmission(ref string, fetch ReceiptFetcher, interval time.Duration) *PollingSubmission {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &PollingSubmission{ref: ref, fetch: fetch, interval: interval}
}

func (s *PollingSubmission) Ref() string { return s.ref }

func (s *PollingSubmission) Wait(ctx context.Context) (*Receipt, error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		receipt, err := s.fetch(ctx, s.ref)
		switch {
		case err == nil:
			if receipt.Status == ReceiptReverted {
				return receipt, revertError(receipt)
			}
			return receipt, nil
		case errors.Is(err, sentinel.ErrPending):
		case ctx.Err() != nil:
			// the fetch itself was cut short by the deadline
		default:
			return nil, fmt.Errorf("fetch receipt %s: %w", s.ref, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: submission %s: %w", ErrConfirmationTimeout, s.ref, ctx.Err())
		case <-ticker.C:
		}
	}
}

func revertError(r *Receipt) error {
	if r.Reason == "" {
		return fmt.Errorf("%w: submission %s", ErrReverted, r.Ref)
	}
	return fmt.Errorf("%w: submission %s: %s", ErrReverted, r.Ref, r.Reason)
}

// IsIndeterminate reports whether err means the submission outcome is unknown.
func IsIndeterminate(err error) bool {
	return errors.Is(err, ErrConfirmationTimeout)
}
