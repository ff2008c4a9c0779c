package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/noah-isme/course-registration-api/pkg/config"
)

// LocalStorage persists files on disk under a base directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// SaveStream copies from reader into the target file path and returns the
// number of bytes written.
func (s *LocalStorage) SaveStream(filename string, r io.Reader) (int64, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("prepare upload directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	n, err := io.Copy(file, r)
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("write upload stream: %w", err)
	}
	return n, nil
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(filename string) (*os.File, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file if present.
func (s *LocalStorage) Delete(filename string) error {
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete upload file: %w", err)
	}
	return nil
}

// keys are always relative to baseDir
func (s *LocalStorage) resolve(filename string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(filename))
	if filename == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q", filename)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// LocalObjectStore serves attachments from disk through signed download URLs.
type LocalObjectStore struct {
	files  *LocalStorage
	signer *SignedURLSigner
	prefix string
}

// NewLocalObjectStore wires a LocalStorage to a signer. prefix is the route
// that accepts download tokens, e.g. "/api/files".
func NewLocalObjectStore(files *LocalStorage, signer *SignedURLSigner, prefix string) *LocalObjectStore {
	return &LocalObjectStore{files: files, signer: signer, prefix: strings.TrimRight(prefix, "/")}
}

// Driver implements ObjectStore.
func (s *LocalObjectStore) Driver() string { return config.StorageDriverLocal }

// Put implements ObjectStore.
func (s *LocalObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := s.files.SaveStream(key, r)
	if err != nil {
		return nil, err
	}
	return &Object{Key: key, URL: "local:" + key, Size: n}, nil
}

// Delete implements ObjectStore.
func (s *LocalObjectStore) Delete(ctx context.Context, key string) error {
	return s.files.Delete(key)
}

// ResolveURL signs a fresh download link; stored URLs are not durable.
func (s *LocalObjectStore) ResolveURL(key, _ string) (string, error) {
	token, _, err := s.signer.Generate("file", key)
	if err != nil {
		return "", err
	}
	return s.prefix + "/" + token, nil
}

// OpenSigned validates a download token and opens the referenced file.
func (s *LocalObjectStore) OpenSigned(token string) (*os.File, string, error) {
	_, key, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", err
	}
	file, err := s.files.Open(key)
	if err != nil {
		return nil, "", err
	}
	return file, key, nil
}
