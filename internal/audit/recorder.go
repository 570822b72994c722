package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"remitgate/pkg/requestcontext"
)

// Recorder writes audit entries with fail-closed semantics: Record returns only
// after the Store has durably appended the entry, and an error means the
// caller's outcome must not be reported as recorded. Committed entries are
// optionally handed to a Streamer through a bounded buffer; streaming never
// blocks or fails the caller.
type Recorder struct {
	store    Store
	logger   *slog.Logger
	metrics  *Metrics
	clock    func() time.Time
	streamer Streamer

	buffer chan Entry
	wg     sync.WaitGroup
	once   sync.Once

	// mu guards buffer sends against Close; closed stops further streaming.
	mu     sync.RWMutex
	closed bool
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithStreamer enables asynchronous streaming of committed entries.
func WithStreamer(s Streamer, bufferSize int) Option {
	return func(r *Recorder) {
		if s == nil {
			return
		}
		if bufferSize <= 0 {
			bufferSize = 256
		}
		r.streamer = s
		r.buffer = make(chan Entry, bufferSize)
	}
}

// NewRecorder creates a Recorder over store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store: store,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.buffer != nil {
		r.wg.Add(1)
		go r.streamLoop()
	}
	return r
}

// Record stamps and durably appends entry.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if !entry.Stage.IsValid() {
		return fmt.Errorf("audit entry has unknown stage %q", entry.Stage)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.clock().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}

	start := time.Now()
	if err := r.store.Append(ctx, entry); err != nil {
		r.metrics.incPersistFailures()
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "CRITICAL: audit append failed",
				"stage", entry.Stage,
				"sender", entry.Sender,
				"request_id", entry.RequestID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	r.metrics.observePersist(time.Since(start).Seconds())
	r.metrics.incAppended(entry.Stage, entry.Success)

	r.enqueue(ctx, entry)
	return nil
}

// ReadAll returns the full trail in append order.
func (r *Recorder) ReadAll(ctx context.Context) ([]Entry, error) {
	return r.store.ReadAll(ctx)
}

func (r *Recorder) enqueue(ctx context.Context, entry Entry) {
	if r.buffer == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.incStreamDropped()
		if r.logger != nil {
			r.logger.WarnContext(ctx, "audit recorder closed, entry persisted but not streamed",
				"entry_id", entry.ID,
				"stage", entry.Stage,
			)
		}
		return
	}
	select {
	case r.buffer <- entry:
	default:
		r.metrics.incStreamDropped()
		if r.logger != nil {
			r.logger.WarnContext(ctx, "audit stream buffer full, entry not streamed",
				"entry_id", entry.ID,
				"stage", entry.Stage,
			)
		}
	}
}

// Close drains the stream buffer and closes the streamer. Entries recorded
// after Close are still persisted but no longer streamed.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		if r.buffer == nil {
			return
		}
		r.mu.Lock()
		r.closed = true
		close(r.buffer)
		r.mu.Unlock()
		r.wg.Wait()
		err = r.streamer.Close()
	})
	return err
}

const streamBatchSize = 64

func (r *Recorder) streamLoop() {
	defer r.wg.Done()
	batch := make([]Entry, 0, streamBatchSize)
	for entry := range r.buffer {
		batch = append(batch[:0], entry)
	drain:
		for len(batch) < streamBatchSize {
			select {
			case next, ok := <-r.buffer:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := r.streamer.Stream(context.Background(), batch...); err != nil {
			r.metrics.incStreamFailures()
			if r.logger != nil {
				r.logger.Error("audit stream publish failed",
					"entries", len(batch),
					"error", err,
				)
			}
		}
	}
}
