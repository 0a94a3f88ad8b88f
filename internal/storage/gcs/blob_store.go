// Package gcs archives exported blueprints to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config names the bucket and an optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore implements intel.BlobStore on one bucket. Blueprint archives are
// versioned by path, so objects are written once and never overwritten in
// place by this service.
type BlobStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New wraps an existing client. The caller keeps ownership of client until
// Close is called on the returned store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	switch {
	case client == nil:
		return nil, errors.New("gcs: storage client is required")
	case strings.TrimSpace(cfg.Bucket) == "":
		return nil, errors.New("gcs: bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Open dials GCS with Application Default Credentials unless opts say
// otherwise, then checks the bucket exists so misconfiguration fails at boot.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*BlobStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	store, err := New(client, cfg)
	if err == nil {
		if _, attrErr := store.bucket.Attrs(ctx); attrErr != nil {
			err = fmt.Errorf("gcs: bucket %q attributes: %w", cfg.Bucket, attrErr)
		}
	}
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("gcs client close after failed open", zap.Error(closeErr))
		}
		return nil, err
	}
	logger.Info("gcs blob store ready", zap.String("bucket", cfg.Bucket), zap.String("prefix", store.prefix))
	return store, nil
}

func (s *BlobStore) objectName(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// PutObject streams data to prefix/p and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, data io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("gcs: object path is required")
	}
	name := s.objectName(p)
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		return "", fmt.Errorf("gcs: write %s: %w", name, errors.Join(err, w.Close()))
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: finalize %s: %w", name, err)
	}
	return "gs://" + s.name + "/" + name, nil
}

// Close releases the client.
func (s *BlobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("gcs: close client: %w", err)
	}
	return nil
}
