// Package storage opens inputs and creates outputs named by location strings: "-" for the
// standard streams, s3://bucket/key, gs://bucket/key or a local path.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cerrors "go_json_columnar_convertor/errors"
)

type Scheme string

const (
	SchemeStd  Scheme = "-"
	SchemeFile Scheme = "file"
	SchemeS3   Scheme = "s3"
	SchemeGCS  Scheme = "gs"
)

// Location is a parsed location string.
type Location struct {
	Scheme Scheme
	Bucket string
	// Key is the object key for remote schemes and the file path for SchemeFile.
	Key string
}

func (l Location) String() string {
	switch l.Scheme {
	case SchemeStd:
		return "-"
	case SchemeFile:
		return l.Key
	}
	return string(l.Scheme) + "://" + l.Bucket + "/" + l.Key
}

// ParseLocation splits s into scheme, bucket and key.
func ParseLocation(s string) (Location, error) {
	if s == "" {
		return Location{}, cerrors.New(cerrors.ErrorTypeConfig, "empty location")
	}
	if s == "-" {
		return Location{Scheme: SchemeStd}, nil
	}
	for _, scheme := range []Scheme{SchemeS3, SchemeGCS} {
		prefix := string(scheme) + "://"
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		bucket, key, _ := strings.Cut(strings.TrimPrefix(s, prefix), "/")
		if bucket == "" || key == "" {
			return Location{}, cerrors.Newf(cerrors.ErrorTypeConfig, "location %q needs a bucket and a key", s)
		}
		return Location{Scheme: scheme, Bucket: bucket, Key: key}, nil
	}
	if i := strings.Index(s, "://"); i > 0 && !strings.ContainsAny(s[:i], `/\`) {
		return Location{}, cerrors.Newf(cerrors.ErrorTypeConfig, "unsupported location scheme %q", s[:i])
	}
	return Location{Scheme: SchemeFile, Key: s}, nil
}

// ObjectStore reads and writes objects in buckets. Writes become visible when the writer is
// closed without error.
type ObjectStore interface {
	NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	NewWriter(ctx context.Context, bucket, key string) (io.WriteCloser, error)
}

// Config configures the remote stores.
type Config struct {
	// Region overrides the AWS region from the environment.
	Region string `mapstructure:"region"`
	// CredentialsFile is a GCS service account file. Empty uses application default credentials.
	CredentialsFile string `mapstructure:"credentials_file"`
	PartSize        int64  `mapstructure:"part_size"`
	Concurrency     int    `mapstructure:"concurrency"`
}

// Resolver maps locations to stores. Remote clients are created on first use.
type Resolver struct {
	cfg    Config
	mu     sync.Mutex
	stores map[Scheme]ObjectStore
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg, stores: make(map[Scheme]ObjectStore)}
}

// SetStore installs store for scheme in place of the default client.
func (r *Resolver) SetStore(scheme Scheme, store ObjectStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[scheme] = store
}

// Store returns the store for a remote scheme.
func (r *Resolver) Store(ctx context.Context, scheme Scheme) (ObjectStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[scheme]; ok {
		return s, nil
	}
	var (
		s   ObjectStore
		err error
	)
	switch scheme {
	case SchemeS3:
		s, err = NewS3(ctx, r.cfg)
	case SchemeGCS:
		s, err = NewGCS(ctx, r.cfg)
	default:
		return nil, cerrors.Newf(cerrors.ErrorTypeConfig, "no object store for scheme %q", scheme)
	}
	if err != nil {
		return nil, err
	}
	r.stores[scheme] = s
	return s, nil
}

// Open opens location for reading.
func (r *Resolver) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	switch loc.Scheme {
	case SchemeStd:
		return io.NopCloser(os.Stdin), nil
	case SchemeFile:
		f, err := os.Open(loc.Key)
		if err != nil {
			return nil, cerrors.Wrap(err, cerrors.ErrorTypeConfig, "failed to open input")
		}
		return f, nil
	}
	store, err := r.Store(ctx, loc.Scheme)
	if err != nil {
		return nil, err
	}
	return store.NewReader(ctx, loc.Bucket, loc.Key)
}

// Create opens location for writing. The output is complete once the writer is closed.
func (r *Resolver) Create(ctx context.Context, location string) (io.WriteCloser, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	switch loc.Scheme {
	case SchemeStd:
		return nopWriteCloser{os.Stdout}, nil
	case SchemeFile:
		return createFile(loc.Key)
	}
	store, err := r.Store(ctx, loc.Scheme)
	if err != nil {
		return nil, err
	}
	return store.NewWriter(ctx, loc.Bucket, loc.Key)
}

// Close releases the remote clients that hold connections.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for scheme, s := range r.stores {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(r.stores, scheme)
	}
	return first
}

func createFile(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cerrors.Wrap(err, cerrors.ErrorTypeSink, "failed to create output directory")
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeSink, "failed to create output")
	}
	return f, nil
}

// Abort closes w after a failed write. Writers that can discard their output, like S3
// uploads, are closed with cause so nothing partial is stored.
func Abort(w io.WriteCloser, cause error) error {
	if a, ok := w.(interface{ CloseWithError(error) error }); ok {
		return a.CloseWithError(cause)
	}
	return w.Close()
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Dir is an ObjectStore on the local filesystem where every bucket is a directory below Root.
type Dir struct {
	Root string
}

func (d Dir) path(bucket, key string) string {
	return filepath.Join(d.Root, bucket, filepath.FromSlash(key))
}

func (d Dir) NewReader(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(bucket, key))
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeConnection, "failed to open object").
			WithDetail("bucket", bucket).WithDetail("key", key)
	}
	return f, nil
}

func (d Dir) NewWriter(_ context.Context, bucket, key string) (io.WriteCloser, error) {
	return createFile(d.path(bucket, key))
}
