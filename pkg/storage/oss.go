package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/noah-isme/course-registration-api/pkg/config"
)

// OSSConfig locates the Aliyun OSS bucket holding attachments.
type OSSConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	PublicBase string
}

// ossBucket is the subset of *oss.Bucket used here.
type ossBucket interface {
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
	DeleteObject(objectKey string, options ...oss.Option) error
}

// OSSStore stores attachments as public-read objects in Aliyun OSS.
type OSSStore struct {
	bucket     ossBucket
	endpoint   string
	bucketName string
	publicBase string
}

// NewOSSStore connects to the configured bucket.
func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("oss storage requires endpoint, access key, secret key and bucket")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("client.Bucket: %w", err)
	}
	return newOSSStore(bucket, cfg), nil
}

func newOSSStore(bucket ossBucket, cfg OSSConfig) *OSSStore {
	return &OSSStore{
		bucket:     bucket,
		endpoint:   cfg.Endpoint,
		bucketName: cfg.Bucket,
		publicBase: strings.TrimRight(strings.TrimSpace(cfg.PublicBase), "/"),
	}
}

// Driver implements ObjectStore.
func (s *OSSStore) Driver() string { return config.StorageDriverOSS }

// Put implements ObjectStore.
func (s *OSSStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ContentDisposition("inline"),
	}
	if size > 0 {
		opts = append(opts, oss.ContentLength(size))
	}
	if err := s.bucket.PutObject(key, r, opts...); err != nil {
		return nil, fmt.Errorf("oss put %s: %w", key, err)
	}
	return &Object{Key: key, URL: s.PublicURL(key), Size: size}, nil
}

// Delete implements ObjectStore. Missing objects are not an error.
func (s *OSSStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		if se, ok := err.(oss.ServiceError); ok && se.StatusCode == 404 {
			return nil
		}
		return fmt.Errorf("oss delete %s: %w", key, err)
	}
	return nil
}

// ResolveURL implements ObjectStore.
func (s *OSSStore) ResolveURL(key, storedURL string) (string, error) {
	if storedURL != "" {
		return storedURL, nil
	}
	return s.PublicURL(key), nil
}

// PublicURL derives the public address of key.
func (s *OSSStore) PublicURL(key string) string {
	if key == "" {
		return ""
	}
	if s.publicBase != "" {
		return s.publicBase + "/" + key
	}
	end := strings.TrimPrefix(strings.TrimPrefix(s.endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", s.bucketName, end, key)
}
