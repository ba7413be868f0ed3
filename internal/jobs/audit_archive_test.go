package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/split-connect/split-backend/internal/archive/local"
	"github.com/split-connect/split-backend/internal/audit"
	"github.com/split-connect/split-backend/internal/config"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newJobFixture(t *testing.T) (*audit.Store, *local.Backend, string) {
	t.Helper()
	dir := t.TempDir()

	store, err := audit.NewStore(filepath.Join(dir, "transactions.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	entry := &audit.Entry{ID: "acct_1", Type: audit.TypeAccount, Status: audit.StatusCreated}
	if err := store.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	archiveDir := filepath.Join(dir, "archive")
	backend, err := local.New(&config.LocalArchiveConfig{BasePath: archiveDir})
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	return store, backend, archiveDir
}

type brokenSource struct{}

func (brokenSource) ReadAll(context.Context) ([]json.RawMessage, error) {
	return nil, errors.New("disk gone")
}

// ---------------------------------------------------------------------------
// RunOnce
// ---------------------------------------------------------------------------

func TestAuditArchiveJob_RunOnceUploadsSnapshot(t *testing.T) {
	store, backend, archiveDir := newJobFixture(t)
	job := NewAuditArchiveJob(store, backend, "nightly")
	job.now = func() time.Time { return time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC) }

	job.RunOnce(context.Background())

	data, err := os.ReadFile(filepath.Join(archiveDir, "nightly", "transactions-20260501T020000Z.json"))
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	var entries []map[string]interface{}
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("snapshot is not a JSON array: %v", err)
	}
	if len(entries) != 1 || entries[0]["id"] != "acct_1" {
		t.Errorf("entries = %v, want one acct_1 entry", entries)
	}
	if got := job.runCount(); got != 1 {
		t.Errorf("runCount = %d, want 1", got)
	}
}

func TestAuditArchiveJob_RunOnceSourceFailure(t *testing.T) {
	_, backend, archiveDir := newJobFixture(t)
	job := NewAuditArchiveJob(brokenSource{}, backend, "nightly")

	job.RunOnce(context.Background())

	if got := job.runCount(); got != 1 {
		t.Errorf("runCount = %d, want 1", got)
	}
	matches, _ := filepath.Glob(filepath.Join(archiveDir, "nightly", "*.json"))
	if len(matches) != 0 {
		t.Errorf("found %d snapshots after failed read, want 0", len(matches))
	}
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

func TestAuditArchiveJob_StartTicks(t *testing.T) {
	store, backend, _ := newJobFixture(t)
	job := NewAuditArchiveJob(store, backend, "ticks")

	job.Start(context.Background(), 10*time.Millisecond)
	defer job.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for job.runCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuditArchiveJob_StopIsIdempotent(t *testing.T) {
	store, backend, _ := newJobFixture(t)
	job := NewAuditArchiveJob(store, backend, "stop")
	job.Start(context.Background(), time.Hour)

	done := make(chan struct{})
	go func() {
		job.Stop()
		job.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestAuditArchiveJob_ContextCancelEndsLoop(t *testing.T) {
	store, backend, _ := newJobFixture(t)
	job := NewAuditArchiveJob(store, backend, "cancel")

	ctx, cancel := context.WithCancel(context.Background())
	job.Start(ctx, time.Hour)
	cancel()

	done := make(chan struct{})
	go func() {
		job.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
	job.Stop()
}
