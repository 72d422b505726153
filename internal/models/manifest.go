package models

import (
	"sort"
	"time"
)

// ManifestEntry is the denormalized listing form of one message.
type ManifestEntry struct {
	MessageID      string    `json:"messageId"`
	Timestamp      time.Time `json:"timestamp"`
	BlobKey        string    `json:"blobKey"`
	Subject        string    `json:"subject,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	Size           int64     `json:"size"`
	HasAttachments bool      `json:"hasAttachments"`
}

// Manifest is the per-day listing of ingested messages. Entries are kept
// sorted by timestamp descending, ties broken by message id ascending, and
// contain at most one entry per message id.
type Manifest struct {
	Date        string          `json:"date"`
	Emails      []ManifestEntry `json:"emails"`
	EmailCount  int             `json:"emailCount"`
	LastUpdated string          `json:"lastUpdated"`
}

// NewManifest returns an empty manifest for the given partition date.
func NewManifest(date string) *Manifest {
	return &Manifest{Date: date, Emails: []ManifestEntry{}}
}

// Upsert replaces any entry with the same message id, appends the new entry,
// and restores sort order and count.
func (m *Manifest) Upsert(entry ManifestEntry, now time.Time) {
	kept := m.Emails[:0]
	for _, e := range m.Emails {
		if e.MessageID != entry.MessageID {
			kept = append(kept, e)
		}
	}
	m.Emails = append(kept, entry)
	m.Normalize(now)
}

// Normalize re-sorts entries, recomputes the count, and stamps lastUpdated.
func (m *Manifest) Normalize(now time.Time) {
	sort.SliceStable(m.Emails, func(i, j int) bool {
		ti, tj := m.Emails[i].Timestamp, m.Emails[j].Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return m.Emails[i].MessageID < m.Emails[j].MessageID
	})
	m.EmailCount = len(m.Emails)
	m.LastUpdated = now.UTC().Format(time.RFC3339)
}
