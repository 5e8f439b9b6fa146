// Package uploader copies finished run directories to object storage.
package uploader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aqpeval/internal/config"
	"aqpeval/internal/util"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

const uploadAttempts = 3

// Uploader publishes a run directory and returns its remote location.
type Uploader interface {
	Enabled() bool
	UploadDir(ctx context.Context, dir string) (string, error)
}

// NoopUploader is used when no storage backend is configured.
type NoopUploader struct{}

func (n NoopUploader) Enabled() bool {
	return false
}

func (n NoopUploader) UploadDir(ctx context.Context, dir string) (string, error) {
	return "", nil
}

// New picks the configured backend. GCS wins when both are enabled.
func New(storage config.StorageConfig, log *util.Logger) (Uploader, error) {
	switch {
	case storage.GCS.Enabled:
		return NewGCS(storage.GCS, log)
	case storage.S3.Enabled:
		return NewS3(storage.S3, log)
	}
	return NoopUploader{}, nil
}

// putFunc stores one local file under an object key.
type putFunc func(ctx context.Context, path, key string) error

// objectPrefix returns "<prefix>/<dir base>/" with an empty prefix omitted.
func objectPrefix(prefix, dir string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return prefix + filepath.Base(dir) + "/"
}

// uploadFiles puts every regular file directly inside dir, retrying each
// with exponential backoff.
func uploadFiles(ctx context.Context, log *util.Logger, dir, prefix string, put putFunc) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		key := prefix + entry.Name()
		backoff := retry.WithMaxRetries(uploadAttempts-1, retry.NewExponential(500*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := put(ctx, path, key); err != nil {
				log.Warnf("upload %s failed, retrying: %v", key, err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "upload %s", key)
		}
	}
	return nil
}
