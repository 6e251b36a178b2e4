package aibom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink stores report objects. Put replaces any existing object at key.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Destination is a sink plus the key the report is written under.
type Destination struct {
	Sink Sink
	Key  string
	URI  string
}

func (d Destination) String() string {
	if d.URI != "" {
		return d.URI
	}
	return d.Key
}

// OpenDestination resolves a destination URI: file:///path, s3://bucket/key,
// gs://bucket/object, or a bare filesystem path.
func OpenDestination(ctx context.Context, uri string) (Destination, error) {
	if uri == "" {
		return Destination{}, fmt.Errorf("empty ledger destination")
	}
	if !strings.Contains(uri, "://") {
		return fileDestination(uri), nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Destination{}, fmt.Errorf("invalid ledger destination %q: %w", uri, err)
	}
	key := strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case "file":
		d := fileDestination(u.Path)
		d.URI = uri
		return d, nil
	case "s3":
		if u.Host == "" || key == "" {
			return Destination{}, fmt.Errorf("s3 destination needs bucket and key: %q", uri)
		}
		sink, err := NewS3Sink(ctx, S3SinkConfig{
			Bucket:   u.Host,
			Region:   u.Query().Get("region"),
			Endpoint: u.Query().Get("endpoint"),
		})
		if err != nil {
			return Destination{}, err
		}
		return Destination{Sink: sink, Key: key, URI: uri}, nil
	case "gs":
		if u.Host == "" || key == "" {
			return Destination{}, fmt.Errorf("gs destination needs bucket and object: %q", uri)
		}
		sink, err := NewGCSSink(ctx, u.Host)
		if err != nil {
			return Destination{}, err
		}
		return Destination{Sink: sink, Key: key, URI: uri}, nil
	default:
		return Destination{}, fmt.Errorf("unsupported ledger destination scheme %q", u.Scheme)
	}
}

func fileDestination(path string) Destination {
	return Destination{
		Sink: FileSink{Dir: filepath.Dir(path)},
		Key:  filepath.Base(path),
		URI:  path,
	}
}

// FileSink writes objects as files under Dir, atomically.
type FileSink struct {
	Dir string
}

// Put writes data to Dir/key via a synced temp file and rename.
func (s FileSink) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	return WriteFileAtomic(path, data, 0644)
}

// WriteFileAtomic replaces path with content so readers never observe a
// partial file.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(parent, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if runtime.GOOS != "windows" {
			return fmt.Errorf("rename temp file: %w", err)
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("remove destination before rename: %w", rmErr)
		}
		if err := os.Rename(tmpPath, path); err != nil {
			return fmt.Errorf("rename temp file after remove: %w", err)
		}
	}
	cleanup = false

	if dir, err := os.Open(parent); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

// s3PutAPI is the subset of *s3.Client used by S3Sink.
type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3SinkConfig holds configuration for S3Sink.
type S3SinkConfig struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO, LocalStack
	Prefix   string
}

// S3Sink writes reports to an S3 bucket.
type S3Sink struct {
	client s3PutAPI
	bucket string
	prefix string
}

// NewS3Sink creates a sink using the default AWS credential chain.
func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads data as a JSON object.
func (s *S3Sink) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}

// gcsWriterFunc opens a writer for bucket/object.
type gcsWriterFunc func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// GCSSink writes reports to a Google Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	open   gcsWriterFunc
}

// NewGCSSink creates a sink using application default credentials.
func NewGCSSink(ctx context.Context, bucket string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	s := &GCSSink{client: client, bucket: bucket}
	s.open = func(ctx context.Context, bucket, object, ct string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = ct
		return w
	}
	return s, nil
}

// Put uploads data. The object is committed on Close.
func (s *GCSSink) Put(ctx context.Context, key string, data []byte) error {
	w := s.open(ctx, s.bucket, key, contentType(key))
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

// Close closes the GCS client.
func (s *GCSSink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func contentType(key string) string {
	if strings.HasSuffix(key, SignatureSuffix) {
		return "application/jose"
	}
	return "application/json"
}
