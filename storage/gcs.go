package storage

import (
	"context"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	cerrors "go_json_columnar_convertor/errors"
)

// GCS is an ObjectStore on Google Cloud Storage.
type GCS struct {
	client *gcs.Client
}

// NewGCS creates a client from cfg.CredentialsFile, or from application default
// credentials when it is empty.
func NewGCS(ctx context.Context, cfg Config) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &GCS{client: client}, nil
}

func (g *GCS) NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeConnection, "failed to open object").
			WithDetail("bucket", bucket).WithDetail("key", key)
	}
	return r, nil
}

func (g *GCS) NewWriter(ctx context.Context, bucket, key string) (io.WriteCloser, error) {
	w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	return w, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
