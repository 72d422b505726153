package models

import (
	"testing"
	"time"
)

func entryAt(id string, ts time.Time) ManifestEntry {
	return ManifestEntry{MessageID: id, Timestamp: ts, BlobKey: "processed/2026-09-01/" + id + ".eml"}
}

func TestManifestUpsertReplacesDuplicate(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	m := NewManifest("2026-09-01")

	m.Upsert(entryAt("msg-1", now), now)
	m.Upsert(entryAt("msg-2", now.Add(time.Minute)), now)

	updated := entryAt("msg-1", now)
	updated.Subject = "resent"
	m.Upsert(updated, now)

	if m.EmailCount != 2 {
		t.Fatalf("expected 2 entries after re-upsert, got %d", m.EmailCount)
	}
	var found *ManifestEntry
	for i := range m.Emails {
		if m.Emails[i].MessageID == "msg-1" {
			found = &m.Emails[i]
		}
	}
	if found == nil {
		t.Fatal("msg-1 missing after upsert")
	}
	if found.Subject != "resent" {
		t.Fatalf("upsert did not replace entry, subject = %q", found.Subject)
	}
}

func TestManifestSortOrder(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	m := NewManifest("2026-09-01")

	m.Upsert(entryAt("b", now), now)
	m.Upsert(entryAt("a", now), now)
	m.Upsert(entryAt("c", now.Add(time.Hour)), now)
	m.Upsert(entryAt("d", now.Add(-time.Hour)), now)

	want := []string{"c", "a", "b", "d"}
	if len(m.Emails) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(m.Emails))
	}
	for i, id := range want {
		if m.Emails[i].MessageID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, m.Emails[i].MessageID)
		}
	}
}

func TestManifestNormalizeStampsCountAndTime(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	m := NewManifest("2026-09-01")
	m.Emails = []ManifestEntry{entryAt("x", now), entryAt("y", now)}

	m.Normalize(now)

	if m.EmailCount != 2 {
		t.Errorf("count = %d, want 2", m.EmailCount)
	}
	if m.LastUpdated != "2026-09-01T12:00:00Z" {
		t.Errorf("lastUpdated = %q", m.LastUpdated)
	}
}
