package index

import (
	"context"
	"sort"
	"sync"

	"github.com/mailroom-io/mailroom/internal/models"
)

// MemoryStore is a process-local index used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.MessageRecord
}

// NewMemoryStore creates an empty in-memory index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.MessageRecord)}
}

func (s *MemoryStore) Upsert(_ context.Context, rec *models.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.MessageID] = *rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, messageID string) (*models.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) ListByDate(_ context.Context, partitionDate string) ([]models.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MessageRecord
	for _, rec := range s.records {
		if rec.PartitionDate == partitionDate {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListByRecipient(_ context.Context, recipientEmail string, limit int) ([]models.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MessageRecord
	for _, rec := range s.records {
		if rec.RecipientEmail == recipientEmail {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many records are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func sortNewestFirst(records []models.MessageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].Timestamp, records[j].Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return records[i].MessageID < records[j].MessageID
	})
}
