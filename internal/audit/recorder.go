package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/split-connect/split-backend/internal/safego"
	"github.com/split-connect/split-backend/internal/telemetry"
)

const shipTimeout = 10 * time.Second

// Recorder is the handler-facing side of the audit trail. It never reports
// failure: a lost audit entry is logged and counted, and the payment operation
// that produced it carries on.
type Recorder struct {
	store   *Store
	shipper Shipper
	now     func() time.Time

	// mu guards closed against wg.Add racing Close's wg.Wait.
	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithShipper mirrors every persisted entry to s.
func WithShipper(s Shipper) RecorderOption {
	return func(r *Recorder) { r.shipper = s }
}

// WithClock overrides the created_at clock.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder wraps store. A nil store yields a recorder that drops entries.
func NewRecorder(store *Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying store, or nil.
func (r *Recorder) Store() *Store {
	if r == nil {
		return nil
	}
	return r.store
}

// Record stamps, redacts and appends entry. Request cancellation does not
// abort the append; only the store's lock timeout bounds it.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil || r.store == nil {
		return
	}

	entry.CreatedAt = r.now().UTC().Format(time.RFC3339)
	entry.Request = Redact(entry.Request)
	entry.Response = Redact(entry.Response)
	entry.ID = RedactString(entry.ID)

	ctx = context.WithoutCancel(ctx)
	if err := r.store.Append(ctx, &entry); err != nil {
		outcome := "error"
		if errors.Is(err, ErrAuditUnavailable) {
			outcome = "timeout"
		}
		telemetry.AuditAppendsTotal.WithLabelValues(string(entry.Type), outcome).Inc()
		slog.Warn("audit append failed",
			"entry_type", entry.Type,
			"entry_status", entry.Status,
			"entry_id", entry.ID,
			"error", err,
		)
		return
	}
	telemetry.AuditAppendsTotal.WithLabelValues(string(entry.Type), "ok").Inc()

	if r.shipper != nil {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			slog.Warn("audit shipper closed; entry kept locally only", "entry_id", entry.ID)
			return
		}
		r.wg.Add(1)
		r.mu.Unlock()

		shipped := entry
		safego.Go("audit.ship", func() {
			defer r.wg.Done()
			shipCtx, cancel := context.WithTimeout(context.Background(), shipTimeout)
			defer cancel()
			if err := r.shipper.Ship(shipCtx, &shipped); err != nil {
				telemetry.AuditShipFailuresTotal.Inc()
				slog.Error("audit shipper error", "entry_id", shipped.ID, "error", err)
			}
		})
	}
}

// Close waits for in-flight ships, then releases the shippers. Entries
// recorded afterwards are persisted but not shipped.
func (r *Recorder) Close() error {
	if r == nil || r.shipper == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		r.wg.Wait()
		r.closeErr = r.shipper.Close()
	})
	return r.closeErr
}
