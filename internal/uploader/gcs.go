package uploader

import (
	"context"
	"io"
	"os"
	"strings"

	cfg "aqpeval/internal/config"
	"aqpeval/internal/util"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCSUploader uploads run directories to Google Cloud Storage.
type GCSUploader struct {
	cfg    cfg.GCSConfig
	client *storage.Client
	log    *util.Logger
}

// NewGCS constructs an uploader from GCS configuration.
func NewGCS(cfg cfg.GCSConfig, log *util.Logger) (*GCSUploader, error) {
	if !cfg.Enabled {
		return &GCSUploader{cfg: cfg, log: log}, nil
	}
	opts := []option.ClientOption{}
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "gcs client")
	}
	return &GCSUploader{cfg: cfg, client: client, log: log}, nil
}

// Enabled reports whether GCS uploads are configured.
func (u *GCSUploader) Enabled() bool {
	return u.cfg.Enabled
}

// UploadDir uploads a run directory and returns its GCS URL prefix.
func (u *GCSUploader) UploadDir(ctx context.Context, dir string) (string, error) {
	if !u.cfg.Enabled {
		return "", nil
	}
	if u.client == nil {
		return "", errors.New("gcs uploader is not initialized")
	}
	prefix := objectPrefix(u.cfg.Prefix, dir)
	if err := uploadFiles(ctx, u.log, dir, prefix, u.uploadFile); err != nil {
		return "", err
	}
	return "gs://" + u.cfg.Bucket + "/" + prefix, nil
}

func (u *GCSUploader) uploadFile(ctx context.Context, path, key string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer u.log.Close(file, "gcs upload file")

	writer := u.client.Bucket(u.cfg.Bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(writer, file); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
