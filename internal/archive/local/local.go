// Package local writes audit snapshots to a directory on the server. Meant for
// development and single-node deployments; use s3, gcs or azure in production.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/split-connect/split-backend/internal/archive"
	"github.com/split-connect/split-backend/internal/config"
)

func init() {
	archive.Register("local", func(cfg *config.Config) (archive.Backend, error) {
		return New(&cfg.Archive.Local)
	})
}

// Backend stores snapshots under a base directory
type Backend struct {
	basePath string
}

// New creates the base directory if needed.
func New(cfg *config.LocalArchiveConfig) (*Backend, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local archive base path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Backend{basePath: cfg.BasePath}, nil
}

func (b *Backend) Name() string { return "local" }

// Upload writes to a temporary file next to the target and renames it into
// place, so readers never see a partial snapshot.
func (b *Backend) Upload(_ context.Context, key string, reader io.Reader, _ int64) (*archive.UploadResult, error) {
	fullPath, err := b.resolve(key)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), reader)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	return &archive.UploadResult{
		Key:      key,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := b.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// resolve maps key below basePath and rejects keys that would escape it.
func (b *Backend) resolve(key string) (string, error) {
	fullPath := filepath.Join(b.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(b.basePath, fullPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid archive key: %q", key)
	}
	return fullPath, nil
}
