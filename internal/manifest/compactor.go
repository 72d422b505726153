package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/mailroom-io/mailroom/internal/blobstore"
	"github.com/mailroom-io/mailroom/internal/models"
)

// ErrConflictExhausted reports a merge that kept losing the version race.
// The caller logs it and moves on: the message itself is already durable in
// the blob and index stores, and the manifest can be rebuilt from the index.
var ErrConflictExhausted = errors.New("manifest: conflict retries exhausted")

// DocumentStore is the versioned document capability the compactor runs on.
// Read returns an opaque version token; writes are conditional on it, so the
// classic read-merge-write lost-update race turns into a detectable conflict.
type DocumentStore interface {
	// Read returns the document and its version, or blobstore.ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, string, error)

	// WriteIfVersion replaces the document only if the version still matches,
	// failing with blobstore.ErrPreconditionFailed otherwise.
	WriteIfVersion(ctx context.Context, key string, data []byte, version string) error

	// WriteIfAbsent creates the document only if none exists, failing with
	// blobstore.ErrPreconditionFailed otherwise.
	WriteIfAbsent(ctx context.Context, key string, data []byte) error
}

// blobDocuments adapts a VersionedStore to the DocumentStore capability.
type blobDocuments struct {
	store blobstore.VersionedStore
}

// NewBlobDocumentStore exposes a versioned blob store as a DocumentStore.
func NewBlobDocumentStore(store blobstore.VersionedStore) DocumentStore {
	return &blobDocuments{store: store}
}

func (d *blobDocuments) Read(ctx context.Context, key string) ([]byte, string, error) {
	return d.store.GetVersioned(ctx, key)
}

func (d *blobDocuments) WriteIfVersion(ctx context.Context, key string, data []byte, version string) error {
	return d.store.PutIfVersion(ctx, key, data, "application/json", version)
}

func (d *blobDocuments) WriteIfAbsent(ctx context.Context, key string, data []byte) error {
	return d.store.PutIfAbsent(ctx, key, data, "application/json")
}

const (
	defaultMaxAttempts = 5
	defaultBackoffBase = 50 * time.Millisecond
)

// Compactor maintains the per-day manifests. Every mutation is a full
// read-merge-write cycle under optimistic concurrency; a write attempt is
// always a complete, self-consistent replacement of the document.
type Compactor struct {
	docs        DocumentStore
	logger      *log.Logger
	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
	onConflict  func()
}

// CompactorOption customizes a Compactor.
type CompactorOption func(*Compactor)

// NewCompactor builds a compactor over the given document store.
func NewCompactor(docs DocumentStore, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		docs:        docs,
		logger:      log.Default(),
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// WithCompactorLogger overrides the logger used for conflict diagnostics.
func WithCompactorLogger(logger *log.Logger) CompactorOption {
	return func(c *Compactor) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCompactorMaxAttempts bounds the read-merge-write retries.
func WithCompactorMaxAttempts(attempts int) CompactorOption {
	return func(c *Compactor) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithCompactorBackoff sets the base delay between conflicting attempts.
func WithCompactorBackoff(base time.Duration) CompactorOption {
	return func(c *Compactor) {
		if base > 0 {
			c.backoffBase = base
		}
	}
}

// WithCompactorConflictHook observes every version conflict, typically for
// metrics.
func WithCompactorConflictHook(hook func()) CompactorOption {
	return func(c *Compactor) {
		c.onConflict = hook
	}
}

// WithCompactorClock overrides the clock used for lastUpdated stamps.
func WithCompactorClock(now func() time.Time) CompactorOption {
	return func(c *Compactor) {
		if now != nil {
			c.now = now
		}
	}
}

// MergeEntry upserts one entry into the manifest for the partition date.
// Idempotent: merging the same entry twice leaves one occurrence. A create
// race on a day's first message is treated the same as an update conflict.
func (c *Compactor) MergeEntry(ctx context.Context, partitionDate string, entry models.ManifestEntry) error {
	return c.update(ctx, partitionDate, func(m *models.Manifest) {
		m.Upsert(entry, c.now())
	})
}

// Rebuild replaces the day's manifest with one derived from the given
// entries, through the same conditional-write door as MergeEntry.
func (c *Compactor) Rebuild(ctx context.Context, partitionDate string, entries []models.ManifestEntry) error {
	return c.update(ctx, partitionDate, func(m *models.Manifest) {
		m.Emails = append([]models.ManifestEntry(nil), entries...)
		m.Normalize(c.now())
	})
}

// Load fetches and decodes the manifest for a date, or blobstore.ErrNotFound.
func (c *Compactor) Load(ctx context.Context, partitionDate string) (*models.Manifest, error) {
	data, _, err := c.docs.Read(ctx, blobstore.ManifestKey(partitionDate))
	if err != nil {
		return nil, err
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", partitionDate, err)
	}
	return &m, nil
}

func (c *Compactor) update(ctx context.Context, partitionDate string, mutate func(*models.Manifest)) error {
	key := blobstore.ManifestKey(partitionDate)
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		m, version, create, err := c.read(ctx, key, partitionDate)
		if err != nil {
			return err
		}
		mutate(m)
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return fmt.Errorf("manifest: encode %s: %w", partitionDate, err)
		}
		if create {
			err = c.docs.WriteIfAbsent(ctx, key, data)
		} else {
			err = c.docs.WriteIfVersion(ctx, key, data, version)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, blobstore.ErrPreconditionFailed) {
			return fmt.Errorf("manifest: write %s: %w", key, err)
		}
		c.logf("manifest: conflict on %s (attempt %d/%d)", key, attempt, c.maxAttempts)
		if c.onConflict != nil {
			c.onConflict()
		}
		if attempt < c.maxAttempts {
			if err := c.backoff(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrConflictExhausted, key, c.maxAttempts)
}

func (c *Compactor) read(ctx context.Context, key, partitionDate string) (*models.Manifest, string, bool, error) {
	data, version, err := c.docs.Read(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return models.NewManifest(partitionDate), "", true, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("manifest: read %s: %w", key, err)
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		// A corrupt document is replaced wholesale; the version token still
		// guards against clobbering a concurrent repair.
		c.logf("manifest: corrupt document at %s, rebuilding: %v", key, err)
		return models.NewManifest(partitionDate), version, false, nil
	}
	if m.Date == "" {
		m.Date = partitionDate
	}
	if m.Emails == nil {
		m.Emails = []models.ManifestEntry{}
	}
	return &m, version, false, nil
}

func (c *Compactor) backoff(ctx context.Context, attempt int) error {
	delay := c.backoffBase << (attempt - 1)
	delay += time.Duration(rand.Int63n(int64(c.backoffBase)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Compactor) logf(format string, args ...any) {
	if c == nil || c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
