// Package jobs contains background workers that run on a schedule.
// The audit archive job periodically uploads a snapshot of the audit log to
// the configured archive backend. Snapshots are named by time, so a rerun
// after a crash only adds another snapshot.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/split-connect/split-backend/internal/archive"
	"github.com/split-connect/split-backend/internal/safego"
)

// AuditArchiveJob uploads audit snapshots on a fixed interval
type AuditArchiveJob struct {
	source  archive.Source
	backend archive.Backend
	prefix  string
	now     func() time.Time

	// runs counts completed attempts; read by tests.
	mu   sync.Mutex
	runs int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAuditArchiveJob creates a new audit archive job
func NewAuditArchiveJob(source archive.Source, backend archive.Backend, prefix string) *AuditArchiveJob {
	return &AuditArchiveJob{
		source:  source,
		backend: backend,
		prefix:  prefix,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the periodic upload. The first snapshot is taken after one
// full interval, not at startup.
func (j *AuditArchiveJob) Start(ctx context.Context, interval time.Duration) {
	slog.Info("starting audit archive job", "interval", interval, "backend", j.backend.Name())

	j.wg.Add(1)
	safego.Go("audit-archive-job", func() {
		defer j.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.RunOnce(ctx)
			case <-j.stopCh:
				slog.Info("audit archive job stopped")
				return
			case <-ctx.Done():
				slog.Info("audit archive job context cancelled")
				return
			}
		}
	})
}

// Stop stops the job and waits for an in-flight upload to finish.
func (j *AuditArchiveJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

// RunOnce uploads one snapshot. Failures are logged; the next tick retries.
func (j *AuditArchiveJob) RunOnce(ctx context.Context) {
	defer func() {
		j.mu.Lock()
		j.runs++
		j.mu.Unlock()
	}()

	result, err := archive.Export(ctx, j.source, j.backend, j.prefix, j.now())
	if err != nil {
		slog.Error("scheduled audit archive failed", "backend", j.backend.Name(), "error", err)
		return
	}
	slog.Info("scheduled audit archive uploaded",
		"backend", result.Backend,
		"key", result.Key,
		"entries", result.Entries)
}

func (j *AuditArchiveJob) runCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}
