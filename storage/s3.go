package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	cerrors "go_json_columnar_convertor/errors"
)

const (
	defaultPartSize    = 5 * 1024 * 1024 // 5MB per part
	defaultConcurrency = 4
)

// Downloader is the part of manager.Downloader used by S3.
type Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// Uploader is the part of manager.Uploader used by S3.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 reads whole objects into memory with a concurrent downloader and streams writes
// through a multipart uploader.
type S3 struct {
	Downloader Downloader
	Uploader   Uploader
}

// NewS3 loads the default AWS configuration (environment, shared config, instance role).
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeConfig, "failed to load AWS configuration")
	}
	return NewS3FromClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewS3FromClient builds the downloader and uploader on an existing client.
func NewS3FromClient(client *s3.Client, cfg Config) *S3 {
	partSize := cfg.PartSize
	if partSize <= 0 {
		partSize = defaultPartSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &S3{
		Downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.PartSize = partSize
			d.Concurrency = concurrency
		}),
		Uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = concurrency
		}),
	}
}

func (s *S3) NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := s.Downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeConnection, "failed to download object").
			WithDetail("bucket", bucket).WithDetail("key", key)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (s *S3) NewWriter(ctx context.Context, bucket, key string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	w := &uploadWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.Uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			err = cerrors.Wrap(err, cerrors.ErrorTypeConnection, "failed to upload object").
				WithDetail("bucket", bucket).WithDetail("key", key)
		}
		// Unblocks pending writes when the upload stops early.
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

type uploadWriter struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
	err    error
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close ends the body and waits for the upload to finish.
func (w *uploadWriter) Close() error {
	return w.CloseWithError(nil)
}

// CloseWithError ends the body with cause, so the uploader fails instead of storing a
// truncated object, and waits for the upload to stop. A nil cause behaves like Close.
func (w *uploadWriter) CloseWithError(cause error) error {
	if w.closed {
		return w.err
	}
	w.closed = true
	w.pw.CloseWithError(cause)
	w.err = <-w.done
	return w.err
}
