package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"

	"github.com/split-connect/split-backend/internal/config"
	"github.com/split-connect/split-backend/internal/telemetry"
)

// ErrAuditUnavailable is returned when the writer lock cannot be acquired
// within the configured lock timeout.
var ErrAuditUnavailable = errors.New("audit log unavailable")

const (
	defaultLockTimeout = 5 * time.Second
	lockRetryDelay     = 10 * time.Millisecond
	maxLineSize        = 16 << 20
)

// Store is the append-only audit document.
//
// Writers are serialized twice: a weighted semaphore orders goroutines in this
// process, and an advisory lock on "<path>.lock" orders processes. Both waits
// share one deadline.
type Store struct {
	path        string
	format      string
	lockTimeout time.Duration

	slot  *semaphore.Weighted
	flock *flock.Flock
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithFormat selects config.AuditFormatJSON or config.AuditFormatNDJSON.
func WithFormat(format string) StoreOption {
	return func(s *Store) { s.format = format }
}

// WithLockTimeout bounds how long Append and ReadAll wait for the writer lock.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// NewStore prepares a store at path, creating the parent directory. The
// document itself is created lazily and never truncated on open.
func NewStore(path string, opts ...StoreOption) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("audit path is required")
	}
	s := &Store{
		path:        filepath.Clean(path),
		format:      config.AuditFormatJSON,
		lockTimeout: defaultLockTimeout,
		slot:        semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.format != config.AuditFormatJSON && s.format != config.AuditFormatNDJSON {
		return nil, fmt.Errorf("unsupported audit format: %s", s.format)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	s.flock = flock.New(s.path + ".lock")
	return s, nil
}

// NewStoreFromConfig builds a store from the audit configuration section.
func NewStoreFromConfig(cfg *config.AuditConfig) (*Store, error) {
	return NewStore(cfg.Path, WithFormat(cfg.Format), WithLockTimeout(cfg.LockTimeout))
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Format returns the on-disk format.
func (s *Store) Format() string { return s.format }

// Append durably adds one entry to the end of the log.
func (s *Store) Append(ctx context.Context, entry *Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if s.format == config.AuditFormatNDJSON {
		return s.appendLine(payload)
	}
	return s.rewrite(payload)
}

// ReadAll returns every well-formed entry currently in the log, in order.
// A missing or corrupt document yields an empty slice.
func (s *Store) ReadAll(ctx context.Context) ([]json.RawMessage, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	if s.format == config.AuditFormatNDJSON {
		return decodeLines(data), nil
	}
	return decodeDocument(data), nil
}

// CheckWritable verifies that the audit directory accepts new files.
func (s *Store) CheckWritable() error {
	f, err := os.CreateTemp(filepath.Dir(s.path), ".audit-probe-*")
	if err != nil {
		return fmt.Errorf("audit directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// lock acquires the writer slot and the file lock under one deadline and
// returns the matching release function.
func (s *Store) lock(ctx context.Context) (func(), error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	if err := s.slot.Acquire(waitCtx, 1); err != nil {
		return nil, s.lockError(ctx, err)
	}

	locked, err := s.flock.TryLockContext(waitCtx, lockRetryDelay)
	if err != nil || !locked {
		s.slot.Release(1)
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, s.lockError(ctx, err)
	}
	telemetry.AuditLockWaitSeconds.Observe(time.Since(start).Seconds())

	return func() {
		_ = s.flock.Unlock()
		s.slot.Release(1)
	}, nil
}

func (s *Store) lockError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("audit lock wait aborted: %w", parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: writer lock not acquired within %s", ErrAuditUnavailable, s.lockTimeout)
	}
	return fmt.Errorf("failed to lock audit log: %w", err)
}

// rewrite performs the read-append-truncate-write cycle for the JSON array
// document. Caller holds the lock.
func (s *Store) rewrite(payload []byte) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	existing, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	entries := append(decodeDocument(existing), json.RawMessage(payload))

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode audit log: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate audit log: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind audit log: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

// appendLine writes one NDJSON record. A torn last line left by a crashed
// writer is terminated first so the new record starts on its own line.
func (s *Store) appendLine(payload []byte) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat audit log: %w", err)
	}

	line := make([]byte, 0, len(payload)+2)
	if size := info.Size(); size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return fmt.Errorf("failed to read audit log tail: %w", err)
		}
		if last[0] != '\n' {
			line = append(line, '\n')
		}
	}
	line = append(line, payload...)
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

// decodeDocument parses a JSON array document. Anything that is not an array
// is treated as an empty log; non-object elements are dropped.
func decodeDocument(data []byte) []json.RawMessage {
	if len(bytes.TrimSpace(data)) == 0 {
		return []json.RawMessage{}
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return []json.RawMessage{}
	}
	out := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		if isObject(r) {
			out = append(out, r)
		}
	}
	return out
}

// decodeLines parses NDJSON, skipping blank or malformed lines.
func decodeLines(data []byte) []json.RawMessage {
	out := []json.RawMessage{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if !isObject(line) || !json.Valid(line) {
			continue
		}
		out = append(out, append(json.RawMessage(nil), line...))
	}
	return out
}

func isObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}
