package index

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mailroom-io/mailroom/internal/models"
)

func record(id, recipient string, ts time.Time) *models.MessageRecord {
	return &models.MessageRecord{
		MessageID:      id,
		Timestamp:      ts,
		PartitionDate:  ts.UTC().Format("2006-01-02"),
		RecipientEmail: recipient,
		BlobKey:        "processed/" + ts.UTC().Format("2006-01-02") + "/" + id + ".eml",
	}
}

func TestMemoryUpsertAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Upsert(ctx, record("m1", "a@example.org", now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MessageID != "m1" {
		t.Errorf("messageID = %q", got.MessageID)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}
}

func TestMemoryUpsertIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	rec := record("m1", "a@example.org", now)
	for i := 0; i < 3; i++ {
		if err := s.Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}
}

func TestMemoryListByDate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	day := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("m%d", i)
		if err := s.Upsert(ctx, record(id, "a@example.org", day.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.Upsert(ctx, record("other-day", "a@example.org", day.AddDate(0, 0, 1))); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.ListByDate(ctx, "2026-09-01")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].MessageID != "m2" || got[2].MessageID != "m0" {
		t.Errorf("not newest first: %s, %s, %s", got[0].MessageID, got[1].MessageID, got[2].MessageID)
	}
}

func TestMemoryListByRecipient(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("m%d", i)
		if err := s.Upsert(ctx, record(id, "box@example.org", now.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.Upsert(ctx, record("elsewhere", "other@example.org", now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.ListByRecipient(ctx, "box@example.org", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("limit not applied, got %d", len(got))
	}
	if got[0].MessageID != "m4" {
		t.Errorf("not newest first: %s", got[0].MessageID)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New(Config{Backend: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
