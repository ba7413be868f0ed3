package archive_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/split-connect/split-backend/internal/archive"
	"github.com/split-connect/split-backend/internal/audit"
	"github.com/split-connect/split-backend/internal/config"
	"github.com/split-connect/split-backend/internal/telemetry"
)

// memBackend keeps uploads in memory.
type memBackend struct {
	name    string
	objects map[string][]byte
	err     error
}

func newMemBackend(name string) *memBackend {
	return &memBackend{name: name, objects: map[string][]byte{}}
}

func (m *memBackend) Name() string { return m.name }

func (m *memBackend) Upload(_ context.Context, key string, r io.Reader, _ int64) (*archive.UploadResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.objects[key] = data
	return &archive.UploadResult{Key: key, Size: int64(len(data))}, nil
}

func (m *memBackend) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

type failingSource struct{}

func (failingSource) ReadAll(context.Context) ([]json.RawMessage, error) {
	return nil, audit.ErrAuditUnavailable
}

var snapshotTime = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

// ---------------------------------------------------------------------------
// Register / New
// ---------------------------------------------------------------------------

func TestRegister_AddsFactory(t *testing.T) {
	archive.Register("test-backend", func(_ *config.Config) (archive.Backend, error) {
		return newMemBackend("test-backend"), nil
	})

	cfg := &config.Config{}
	cfg.Archive.DefaultBackend = "test-backend"

	b, err := archive.New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if b.Name() != "test-backend" {
		t.Errorf("Name() = %q, want test-backend", b.Name())
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Archive.DefaultBackend = "completely-unknown-backend"

	if _, err := archive.New(cfg); err == nil {
		t.Error("New() = nil error, want error for unregistered backend")
	}
}

func TestNew_EmptyBackend(t *testing.T) {
	if _, err := archive.New(&config.Config{}); err == nil {
		t.Error("New() = nil error, want error for empty backend name")
	}
}

// ---------------------------------------------------------------------------
// ObjectKey
// ---------------------------------------------------------------------------

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"audit", "audit/transactions-20260314T150926Z.json"},
		{"/audit/prod/", "audit/prod/transactions-20260314T150926Z.json"},
		{"", "transactions-20260314T150926Z.json"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.want, archive.ObjectKey(tt.prefix, snapshotTime))
		})
	}

	local := snapshotTime.In(time.FixedZone("BRT", -3*3600))
	assert.Equal(t, "transactions-20260314T150926Z.json", archive.ObjectKey("", local))
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

func TestExport_UploadsJSONArray(t *testing.T) {
	store, err := audit.NewStore(filepath.Join(t.TempDir(), "transactions.json"))
	require.NoError(t, err)
	ctx := context.Background()
	for _, id := range []string{"acct_1", "acct_2"} {
		require.NoError(t, store.Append(ctx, &audit.Entry{
			ID:        id,
			Type:      audit.TypeAccount,
			Status:    audit.StatusCreated,
			CreatedAt: snapshotTime.Format(time.RFC3339),
		}))
	}

	backend := newMemBackend("memory")
	before := testutil.ToFloat64(telemetry.ArchiveUploadsTotal.WithLabelValues("memory", "success"))

	res, err := archive.Export(ctx, store, backend, "audit", snapshotTime)
	require.NoError(t, err)

	assert.Equal(t, "memory", res.Backend)
	assert.Equal(t, "audit/transactions-20260314T150926Z.json", res.Key)
	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, snapshotTime, res.Created)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(backend.objects[res.Key], &got))
	require.Len(t, got, 2)
	assert.Equal(t, "acct_1", got[0]["id"])
	assert.Equal(t, "acct_2", got[1]["id"])

	after := testutil.ToFloat64(telemetry.ArchiveUploadsTotal.WithLabelValues("memory", "success"))
	assert.Equal(t, before+1, after)
}

func TestExport_EmptyLogIsEmptyArray(t *testing.T) {
	store, err := audit.NewStore(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	backend := newMemBackend("memory")

	res, err := archive.Export(context.Background(), store, backend, "", snapshotTime)
	require.NoError(t, err)

	assert.Zero(t, res.Entries)
	assert.Equal(t, "[]", string(bytes.TrimSpace(backend.objects[res.Key])))
}

func TestExport_ReadFailure(t *testing.T) {
	backend := newMemBackend("memory-read")

	_, err := archive.Export(context.Background(), failingSource{}, backend, "audit", snapshotTime)

	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrAuditUnavailable)
	assert.Empty(t, backend.objects)
	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.ArchiveUploadsTotal.WithLabelValues("memory-read", "read_error")))
}

func TestExport_UploadFailure(t *testing.T) {
	store, err := audit.NewStore(filepath.Join(t.TempDir(), "transactions.json"))
	require.NoError(t, err)
	backend := newMemBackend("memory-broken")
	backend.err = errors.New("bucket unreachable")

	_, err = archive.Export(context.Background(), store, backend, "audit", snapshotTime)

	assert.EqualError(t, err, "bucket unreachable")
	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.ArchiveUploadsTotal.WithLabelValues("memory-broken", "error")))
}
