package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/noah-isme/course-registration-api/pkg/config"
)

// Object describes a stored attachment.
type Object struct {
	Key  string
	URL  string
	Size int64
}

// ObjectStore persists course attachments in a backing store.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error)
	Delete(ctx context.Context, key string) error
	// ResolveURL returns the URL clients should use for a stored object.
	ResolveURL(key, storedURL string) (string, error)
	Driver() string
}

// New builds the object store selected by cfg.Driver. downloadPrefix is the
// public route prefix serving local files.
func New(cfg config.FilesConfig, downloadPrefix string) (ObjectStore, error) {
	switch cfg.Driver {
	case "", config.StorageDriverLocal:
		local, err := NewLocalStorage(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		signer := NewSignedURLSigner(cfg.SignedURLSecret, cfg.SignedURLTTL)
		return NewLocalObjectStore(local, signer, downloadPrefix), nil
	case config.StorageDriverOSS:
		return NewOSSStore(OSSConfig{
			Endpoint:   cfg.OSSEndpoint,
			AccessKey:  cfg.OSSAccessKey,
			SecretKey:  cfg.OSSSecretKey,
			Bucket:     cfg.OSSBucket,
			PublicBase: cfg.OSSPublicBase,
		})
	case config.StorageDriverCloudinary:
		return NewCloudinaryStore(CloudinaryConfig{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// BuildObjectKey returns a collision-resistant key under prefix/scope.
func BuildObjectKey(prefix, scope, filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(base), "-"), "-")
	if slug == "" {
		slug = "file"
	}
	if len(slug) > 60 {
		slug = slug[:60]
	}

	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if scope != "" {
		parts = append(parts, scope)
	}
	parts = append(parts, fmt.Sprintf("%s_%s_%s%s", slug, now.UTC().Format("20060102_150405"), randHex(3), ext))
	return strings.Join(parts, "/")
}

func randHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(buf)
}
