package dataset

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig points at an S3-compatible bucket of dataset files.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// Validate checks the required fields.
func (c ObjectStoreConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("object store endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("object store bucket is required")
	}
	return nil
}

// ObjectStore resolves dataset references to files in a bucket. Objects are
// stored as <ref>.csv or <ref>.xlsx; loaded tables are cached in a Registry.
type ObjectStore struct {
	client *minio.Client
	bucket string
	cache  *Registry
}

// NewObjectStore connects to the bucket described by cfg.
func NewObjectStore(cfg ObjectStoreConfig, cache *Registry) (*ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, cache: cache}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *ObjectStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region})
}

// Lookup implements Provider.
func (s *ObjectStore) Lookup(ctx context.Context, ref string) (*Binding, error) {
	if b, err := s.cache.Lookup(ctx, ref); err == nil {
		return b, nil
	}

	for _, key := range []string{ref + ".csv", ref + ".xlsx"} {
		table, err := s.fetch(ctx, key)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		table.Ref = ref
		b, err := s.cache.Add(table)
		if err != nil {
			// A concurrent lookup registered it first.
			return s.cache.Lookup(ctx, ref)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

func (s *ObjectStore) fetch(ctx context.Context, key string) (*Table, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	return Load(key, obj, LoadOptions{})
}

// Put stores an uploaded file under ref so later processes can resolve it.
func (s *ObjectStore) Put(ctx context.Context, ref, filename string, r io.Reader, size int64) error {
	key := ref + path.Ext(filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
