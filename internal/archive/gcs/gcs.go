// Package gcs uploads audit snapshots to Google Cloud Storage. Credentials are
// a service account key (file or inline JSON) or Application Default
// Credentials, which also covers Workload Identity on GKE.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/split-connect/split-backend/internal/archive"
	appconfig "github.com/split-connect/split-backend/internal/config"
	"github.com/split-connect/split-backend/pkg/checksum"
)

func init() {
	archive.Register("gcs", func(cfg *appconfig.Config) (archive.Backend, error) {
		return New(&cfg.Archive.GCS)
	})
}

// Backend implements archive.Backend for Google Cloud Storage
type Backend struct {
	client *storage.Client
	bucket string
}

// New creates a GCS client. With a custom endpoint and no credentials the
// client is unauthenticated, which is what emulators such as
// fake-gcs-server expect.
func New(cfg *appconfig.GCSArchiveConfig) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &Backend{client: client, bucket: cfg.Bucket}, nil
}

func (b *Backend) Name() string { return "gcs" }

// Close closes the GCS client
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader, _ int64) (*archive.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	sum := checksum.SHA256Hex(data)

	writer := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = map[string]string{"sha256": sum}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	// The object is only committed on Close.
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &archive.UploadResult{
		Key:      key,
		Size:     int64(len(data)),
		Checksum: sum,
	}, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.Bucket(b.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}
