package blobstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound reports a key with no stored object.
var ErrNotFound = errors.New("blobstore: object not found")

// ErrPreconditionFailed reports a conditional write whose version check did
// not hold: either the object changed since it was read, or a create-if-absent
// found an existing object.
var ErrPreconditionFailed = errors.New("blobstore: precondition failed")

// Store is the plain blob interface the pipeline writes message bytes through.
type Store interface {
	// Get returns the object bytes, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the object. Re-putting the same key is an overwrite.
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error
}

// VersionedStore extends Store with the optimistic-concurrency primitives the
// manifest compactor needs: reads carry a version token and writes can be
// made conditional on it.
type VersionedStore interface {
	Store

	// GetVersioned returns the object bytes and an opaque version token.
	GetVersioned(ctx context.Context, key string) ([]byte, string, error)

	// PutIfVersion writes only if the stored version still matches.
	PutIfVersion(ctx context.Context, key string, body []byte, contentType string, version string) error

	// PutIfAbsent writes only if no object exists at the key.
	PutIfAbsent(ctx context.Context, key string, body []byte, contentType string) error
}

// Constructor builds a backend from its configuration.
type Constructor func(cfg Config) (VersionedStore, error)

// Config selects and parameterizes a blob backend.
type Config struct {
	Backend  string `mapstructure:"backend"`
	Bucket   string `mapstructure:"bucket"`
	BasePath string `mapstructure:"base_path"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

var constructors = map[string]Constructor{}

// Register adds a backend type to the factory.
func Register(backend string, ctor Constructor) {
	constructors[backend] = ctor
}

// New instantiates the configured backend.
func New(cfg Config) (VersionedStore, error) {
	ctor, ok := constructors[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("blobstore: unknown backend type %q", cfg.Backend)
	}
	return ctor(cfg)
}

func init() {
	Register("filesystem", func(cfg Config) (VersionedStore, error) {
		return NewFilesystemStore(cfg.BasePath)
	})
	Register("memory", func(Config) (VersionedStore, error) {
		return NewMemoryStore(), nil
	})
}
