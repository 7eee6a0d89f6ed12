package migration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"remedy-audit/internal/domain"
)

// StorageConfig holds the object-store credentials used by archive sinks.
type StorageConfig struct {
	S3KeyID    string
	S3Secret   string
	S3Endpoint string // host, or a full URL for S3-compatible stores
	S3Region   string

	AzureAccountName string
	AzureAccountKey  string
	AzureEndpoint    string // overrides https://<account>.blob.core.windows.net

	GCSKeyFile string
}

// Sink stores one exported script.
type Sink interface {
	Put(ctx context.Context, body []byte) error
	Location() string
}

// OpenSink resolves dest into a sink. dest is a local path or an
// s3://, az:// or gs:// URI. A destination ending in "/" is treated as a
// directory or prefix and name is appended to it.
func OpenSink(ctx context.Context, dest, name string, cfg StorageConfig) (Sink, error) {
	if strings.HasSuffix(dest, "/") {
		dest += name
	}
	scheme, _, found := strings.Cut(dest, "://")
	if !found {
		return &FileSink{Path: dest}, nil
	}
	if scheme == "file" {
		return &FileSink{Path: strings.TrimPrefix(dest, "file://")}, nil
	}
	bucket, key, err := parseObjectURI(dest)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "s3":
		return newS3Sink(bucket, key, cfg)
	case "az":
		return newAzureSink(bucket, key, cfg)
	case "gs":
		return newGCSSink(ctx, bucket, key, cfg)
	}
	return nil, domain.ErrValidation("unsupported archive destination scheme %q", scheme)
}

// Archive writes script to every destination concurrently and returns the
// resolved locations in destination order. The first failure cancels the
// remaining uploads.
func Archive(ctx context.Context, script, name string, dests []string, cfg StorageConfig) ([]string, error) {
	sinks := make([]Sink, 0, len(dests))
	defer func() {
		for _, s := range sinks {
			if c, ok := s.(io.Closer); ok {
				_ = c.Close()
			}
		}
	}()
	for _, d := range dests {
		s, err := OpenSink(ctx, d, name, cfg)
		if err != nil {
			return nil, fmt.Errorf("open archive destination %q: %w", d, err)
		}
		sinks = append(sinks, s)
	}

	body := []byte(script)
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sinks {
		g.Go(func() error {
			if err := s.Put(gctx, body); err != nil {
				return fmt.Errorf("archive to %s: %w", s.Location(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	locations := make([]string, len(sinks))
	for i, s := range sinks {
		locations[i] = s.Location()
	}
	return locations, nil
}

// parseObjectURI extracts bucket and key from a "<scheme>://bucket/path" URI.
func parseObjectURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", domain.ErrValidation("parse archive destination %q: %v", uri, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return "", "", domain.ErrValidation("empty bucket in archive destination %q", uri)
	}
	if key == "" {
		return "", "", domain.ErrValidation("empty key in archive destination %q", uri)
	}
	return bucket, key, nil
}

// FileSink writes the script to the local file system.
type FileSink struct {
	Path string
}

// Put writes body to the file, creating parent directories.
func (f *FileSink) Put(_ context.Context, body []byte) error {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return os.WriteFile(f.Path, body, 0o644)
}

// Location returns the file path.
func (f *FileSink) Location() string { return f.Path }

type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Sink struct {
	client      s3PutAPI
	bucket, key string
}

func newS3Sink(bucket, key string, cfg StorageConfig) (*s3Sink, error) {
	if cfg.S3KeyID == "" || cfg.S3Secret == "" {
		return nil, domain.ErrValidation("S3 credentials are required for s3:// destinations")
	}
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.S3KeyID, cfg.S3Secret, ""),
	}
	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
		// S3-compatible stores generally require path-style URLs.
		opts.UsePathStyle = true
	}
	return &s3Sink{client: s3.New(opts), bucket: bucket, key: key}, nil
}

func (s *s3Sink) Put(ctx context.Context, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/sql"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *s3Sink) Location() string { return "s3://" + s.bucket + "/" + s.key }

type azureSink struct {
	client    *azblob.Client
	container string
	blob      string
}

func newAzureSink(container, blob string, cfg StorageConfig) (*azureSink, error) {
	if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
		return nil, domain.ErrValidation("Azure account name and key are required for az:// destinations")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := cfg.AzureEndpoint
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &azureSink{client: client, container: container, blob: blob}, nil
}

func (s *azureSink) Put(ctx context.Context, body []byte) error {
	if _, err := s.client.UploadBuffer(ctx, s.container, s.blob, body, nil); err != nil {
		return fmt.Errorf("upload blob: %w", err)
	}
	return nil
}

func (s *azureSink) Location() string { return "az://" + s.container + "/" + s.blob }

type gcsSink struct {
	client *storage.Client
	bucket string
	object string
}

func newGCSSink(ctx context.Context, bucket, object string, cfg StorageConfig) (*gcsSink, error) {
	if cfg.GCSKeyFile == "" {
		return nil, domain.ErrValidation("a GCS key file is required for gs:// destinations")
	}
	client, err := storage.NewClient(ctx, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.GCSKeyFile))
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &gcsSink{client: client, bucket: bucket, object: object}, nil
}

func (s *gcsSink) Put(ctx context.Context, body []byte) error {
	w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	w.ContentType = "application/sql"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer: %w", err)
	}
	return nil
}

func (s *gcsSink) Close() error { return s.client.Close() }

func (s *gcsSink) Location() string { return "gs://" + s.bucket + "/" + s.object }
