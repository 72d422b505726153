package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailroom-io/mailroom/internal/models"
)

// ErrNotFound reports a message id with no index record.
var ErrNotFound = errors.New("index: record not found")

// Store is the structured index over ingested messages. Upsert is
// idempotent: re-writing an identical record leaves the same stored state.
type Store interface {
	// Upsert writes the record keyed by message id.
	Upsert(ctx context.Context, rec *models.MessageRecord) error

	// Get returns the record for a message id, or ErrNotFound.
	Get(ctx context.Context, messageID string) (*models.MessageRecord, error)

	// ListByDate returns every record for a partition date, newest first.
	ListByDate(ctx context.Context, partitionDate string) ([]models.MessageRecord, error)

	// ListByRecipient returns records via the recipient secondary index.
	ListByRecipient(ctx context.Context, recipientEmail string, limit int) ([]models.MessageRecord, error)
}

// Constructor builds a backend from its configuration.
type Constructor func(cfg Config) (Store, error)

// Config selects and parameterizes an index backend.
type Config struct {
	Backend  string `mapstructure:"backend"`
	Table    string `mapstructure:"table"`
	DSN      string `mapstructure:"dsn"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

var constructors = map[string]Constructor{}

// Register adds a backend type to the factory.
func Register(backend string, ctor Constructor) {
	constructors[backend] = ctor
}

// New instantiates the configured backend.
func New(cfg Config) (Store, error) {
	ctor, ok := constructors[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("index: unknown backend type %q", cfg.Backend)
	}
	return ctor(cfg)
}

func init() {
	Register("memory", func(Config) (Store, error) {
		return NewMemoryStore(), nil
	})
}
