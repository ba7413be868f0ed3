// Package archive uploads snapshots of the audit document to durable object
// storage. Backends register themselves from their init functions; the binary
// links the ones it wants with blank imports and picks one with
// archive.default_backend.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/split-connect/split-backend/internal/config"
	"github.com/split-connect/split-backend/internal/telemetry"
)

// Backend stores archive objects.
type Backend interface {
	// Name identifies the backend in metrics and logs.
	Name() string

	// Upload stores the content under key, replacing any existing object.
	Upload(ctx context.Context, key string, reader io.Reader, size int64) (*UploadResult, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

// UploadResult describes a stored object.
type UploadResult struct {
	Backend  string    `json:"backend"`
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	Checksum string    `json:"sha256"`
	Entries  int       `json:"entries"`
	Created  time.Time `json:"created_at"`
}

// FactoryFunc builds a backend from the application config.
type FactoryFunc func(cfg *config.Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]FactoryFunc{}
)

// Register makes a backend available under name.
func Register(name string, factory FactoryFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New builds the backend named by archive.default_backend.
func New(cfg *config.Config) (Backend, error) {
	name := cfg.Archive.DefaultBackend
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %q", name)
	}
	return factory(cfg)
}

// Source is the part of the audit store an export reads.
type Source interface {
	ReadAll(ctx context.Context) ([]json.RawMessage, error)
}

// ObjectKey names a snapshot taken at t, e.g.
// audit/transactions-20260314T150926Z.json.
func ObjectKey(prefix string, t time.Time) string {
	name := "transactions-" + t.UTC().Format("20060102T150405Z") + ".json"
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Export uploads the current audit document as a single JSON array. The
// snapshot is read under the store's lock, so it never contains a torn entry.
func Export(ctx context.Context, src Source, backend Backend, prefix string, now time.Time) (*UploadResult, error) {
	entries, err := src.ReadAll(ctx)
	if err != nil {
		telemetry.ArchiveUploadsTotal.WithLabelValues(backend.Name(), "read_error").Inc()
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	if entries == nil {
		entries = []json.RawMessage{}
	}

	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		telemetry.ArchiveUploadsTotal.WithLabelValues(backend.Name(), "read_error").Inc()
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := ObjectKey(prefix, now)
	result, err := backend.Upload(ctx, key, bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		telemetry.ArchiveUploadsTotal.WithLabelValues(backend.Name(), "error").Inc()
		return nil, err
	}
	telemetry.ArchiveUploadsTotal.WithLabelValues(backend.Name(), "success").Inc()

	result.Backend = backend.Name()
	result.Entries = len(entries)
	result.Created = now.UTC()
	return result, nil
}
