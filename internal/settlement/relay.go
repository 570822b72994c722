package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"remitgate/internal/ledger"
	"remitgate/internal/settlement/metrics"
	"remitgate/internal/settlement/ports"
)

const DefaultEventPollInterval = 5 * time.Second

// Relay follows the ledger's TransferInitiated and Withdrawn notifications
// and forwards them to logs, metrics and an optional publisher. Delivery is
// at least once: the cursor advances only after every event in a batch has
// been published.
type Relay struct {
	ledger    ledger.Ledger
	cursor    ports.CursorStore
	publisher ports.EventPublisher
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithPublisher forwards each event, keyed by transfer id.
func WithPublisher(p ports.EventPublisher) RelayOption {
	return func(r *Relay) {
		r.publisher = p
	}
}

func WithPollInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func NewRelay(l ledger.Ledger, cursor ports.CursorStore, opts ...RelayOption) (*Relay, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if cursor == nil {
		return nil, errors.New("cursor store is required")
	}
	r := &Relay{
		ledger:   l,
		cursor:   cursor,
		interval: DefaultEventPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run polls on every tick until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.PollOnce(ctx); err != nil && ctx.Err() == nil && r.logger != nil {
			r.logger.WarnContext(ctx, "ledger event poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce relays one batch of events and returns how many were relayed.
func (r *Relay) PollOnce(ctx context.Context) (int, error) {
	from, err := r.cursor.Load(ctx)
	if err != nil {
		return 0, err
	}
	events, next, err := r.ledger.Events(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("read ledger events from %d: %w", from, err)
	}

	for i, ev := range events {
		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, ev.TransferID.String(), ev); err != nil {
				return i, fmt.Errorf("publish %s for transfer %s: %w", ev.Kind, ev.TransferID, err)
			}
		}
		r.metrics.IncrementRelayed(string(ev.Kind))
		if r.logger != nil {
			r.logger.InfoContext(ctx, "ledger event",
				"kind", ev.Kind,
				"transfer_id", ev.TransferID,
				"recipient", ev.Recipient,
				"ref", ev.Ref,
			)
		}
	}

	if next != from {
		if err := r.cursor.Save(ctx, next); err != nil {
			return len(events), err
		}
		r.metrics.SetRelayCursor(next)
	}
	return len(events), nil
}
