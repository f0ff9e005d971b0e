// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// ErrInvalidStoreConfig is returned when an S3 store cannot be configured.
var ErrInvalidStoreConfig = errors.New("invalid object store configuration")

type (
	// ObjectStore is the destination of a publish.
	ObjectStore interface {
		// Stat returns the size of the object at key and whether it exists.
		Stat(ctx context.Context, key string) (size int64, exists bool, err error)
		// Upload stores the local file at key.
		Upload(ctx context.Context, key, filePath string) error
	}

	// S3Config locates a bucket on an S3-compatible service.
	S3Config struct {
		Endpoint    string
		Region      string
		Bucket      string
		UseSSL      bool
		Credentials Credentials
	}

	// S3Store is an ObjectStore backed by minio-go. The bucket is created on
	// first successful upload when missing.
	S3Store struct {
		client *minio.Client
		bucket string
		region string

		mu    sync.Mutex
		ready bool
	}
)

// NewS3Store connects an S3Store. No request is made until first use.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidStoreConfig)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrInvalidStoreConfig)
	}
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = DefaultRegion
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Credentials.AccessKey, cfg.Credentials.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: bucket, region: region}, nil
}

// Stat implements ObjectStore.
func (s *S3Store) Stat(ctx context.Context, key string) (int64, bool, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return info.Size, true, nil
}

// Upload implements ObjectStore.
func (s *S3Store) Upload(ctx context.Context, key, filePath string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	_, err := s.client.FPutObject(ctx, s.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	return err
}

// ensureBucket creates the bucket when missing. After one success it is not
// checked again; a failed check is retried by the next upload.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return err
		}
	}
	s.ready = true
	return nil
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".tar.bz2"):
		return "application/x-bzip2"
	default:
		return "application/octet-stream"
	}
}
