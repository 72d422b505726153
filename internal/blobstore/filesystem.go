package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FilesystemStore keeps blobs under a base directory, one file per key, with
// a JSON sidecar for content type and metadata. The version token is the
// content checksum. Conditional writes are serialized by a process-local
// mutex, which makes this backend correct for a single process only; use the
// s3 backend when independent writers share a store.
type FilesystemStore struct {
	basePath string
	mu       sync.Mutex
}

type fileSidecar struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewFilesystemStore creates the base directory if needed.
func NewFilesystemStore(basePath string) (*FilesystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("blobstore: filesystem base path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create base path: %w", err)
	}
	return &FilesystemStore{basePath: basePath}, nil
}

func (s *FilesystemStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	return body, nil
}

func (s *FilesystemStore) Put(_ context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(key, body, contentType, metadata)
}

func (s *FilesystemStore) GetVersioned(ctx context.Context, key string) ([]byte, string, error) {
	body, err := s.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return body, checksum(body), nil
}

func (s *FilesystemStore) PutIfVersion(_ context.Context, key string, body []byte, contentType string, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	current, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	if checksum(current) != version {
		return ErrPreconditionFailed
	}
	return s.write(key, body, contentType, nil)
}

func (s *FilesystemStore) PutIfAbsent(_ context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return ErrPreconditionFailed
	}
	return s.write(key, body, contentType, nil)
}

// write must be called with the lock held.
func (s *FilesystemStore) write(key string, body []byte, contentType string, metadata map[string]string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("blobstore: create directory for %s: %w", key, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("blobstore: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("blobstore: rename %s: %w", key, err)
	}
	sidecar, err := json.Marshal(fileSidecar{ContentType: contentType, Metadata: metadata})
	if err == nil {
		// Sidecar loss is tolerable: the object itself is what matters.
		_ = os.WriteFile(path+".meta", sidecar, 0o644)
	}
	return nil
}

func (s *FilesystemStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("blobstore: invalid key %q", key)
	}
	return filepath.Join(s.basePath, clean), nil
}

func checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
