package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/noah-isme/course-registration-api/pkg/config"
)

const cloudinaryAPIBase = "https://api.cloudinary.com/v1_1"

// CloudinaryConfig holds the account credentials for the upload API.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	BaseURL   string
}

// CloudinaryStore uploads attachments through the Cloudinary REST API.
// Keys have the form "<resource_type>/<public_id>".
type CloudinaryStore struct {
	client *resty.Client
	cfg    CloudinaryConfig
	now    func() time.Time
}

type cloudinaryUploadResult struct {
	PublicID     string `json:"public_id"`
	SecureURL    string `json:"secure_url"`
	Bytes        int64  `json:"bytes"`
	ResourceType string `json:"resource_type"`
}

type cloudinaryDestroyResult struct {
	Result string `json:"result"`
}

type cloudinaryError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewCloudinaryStore validates credentials and prepares the HTTP client.
func NewCloudinaryStore(cfg CloudinaryConfig) (*CloudinaryStore, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary storage requires cloud name, api key and api secret")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = cloudinaryAPIBase
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.CloudName).
		SetTimeout(60 * time.Second)
	return &CloudinaryStore{client: client, cfg: cfg, now: time.Now}, nil
}

// Driver implements ObjectStore.
func (s *CloudinaryStore) Driver() string { return config.StorageDriverCloudinary }

// Put implements ObjectStore. The key minus its extension becomes the
// public id; Cloudinary picks the resource type.
func (s *CloudinaryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	publicID := strings.TrimSuffix(key, path.Ext(key))
	params := map[string]string{
		"public_id": publicID,
		"timestamp": strconv.FormatInt(s.now().Unix(), 10),
	}
	form := s.signed(params)

	var result cloudinaryUploadResult
	var apiErr cloudinaryError
	resp, err := s.client.R().
		SetContext(ctx).
		SetFileReader("file", path.Base(key), r).
		SetFormData(form).
		SetResult(&result).
		SetError(&apiErr).
		Post("/auto/upload")
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cloudinary upload: status %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}

	resourceType := result.ResourceType
	if resourceType == "" {
		resourceType = "raw"
	}
	stored := result.Bytes
	if stored == 0 {
		stored = size
	}
	return &Object{Key: resourceType + "/" + result.PublicID, URL: result.SecureURL, Size: stored}, nil
}

// Delete implements ObjectStore.
func (s *CloudinaryStore) Delete(ctx context.Context, key string) error {
	resourceType, publicID, ok := strings.Cut(key, "/")
	if !ok || publicID == "" {
		return fmt.Errorf("invalid cloudinary key %q", key)
	}
	form := s.signed(map[string]string{
		"public_id": publicID,
		"timestamp": strconv.FormatInt(s.now().Unix(), 10),
	})

	var result cloudinaryDestroyResult
	var apiErr cloudinaryError
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		SetError(&apiErr).
		Post("/" + resourceType + "/destroy")
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("cloudinary destroy: status %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}
	if result.Result != "ok" && result.Result != "not found" {
		return fmt.Errorf("cloudinary destroy: unexpected result %q", result.Result)
	}
	return nil
}

// ResolveURL implements ObjectStore.
func (s *CloudinaryStore) ResolveURL(_ string, storedURL string) (string, error) {
	return storedURL, nil
}

// signed appends api_key and the SHA-1 request signature to params.
func (s *CloudinaryStore) signed(params map[string]string) map[string]string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + s.cfg.APISecret))

	form := make(map[string]string, len(params)+2)
	for k, v := range params {
		form[k] = v
	}
	form["api_key"] = s.cfg.APIKey
	form["signature"] = hex.EncodeToString(sum[:])
	return form
}
