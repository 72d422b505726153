package models

import (
	"net/url"
	"strings"
	"time"
)

// Notification is the inbound envelope delivered by the mail-receiving
// gateway. Two record shapes are accepted: mail-style records that name a
// message already placed in the blob store, and object-style records for raw
// objects dropped under the incoming prefix.
type Notification struct {
	Records []NotificationRecord `json:"Records"`
}

// NotificationRecord is one message notification in either shape.
type NotificationRecord struct {
	Mail   *MailRecord   `json:"ses,omitempty"`
	Object *ObjectRecord `json:"s3,omitempty"`
}

// MailRecord carries gateway-provided metadata for a received message.
type MailRecord struct {
	Mail struct {
		MessageID   string    `json:"messageId"`
		Timestamp   time.Time `json:"timestamp"`
		Source      string    `json:"source"`
		Destination []string  `json:"destination"`
	} `json:"mail"`
}

// ObjectRecord identifies a raw object placed in the blob store.
type ObjectRecord struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
}

// IncomingPrefix is the conventional key prefix for raw inbound messages.
const IncomingPrefix = "incoming/"

// Event is a notification record resolved to the single shape the pipeline
// consumes: a blob key to fetch plus fallback metadata.
type Event struct {
	MessageID    string
	BlobKey      string
	Timestamp    time.Time
	Source       string
	Destinations []string
}

// Resolve normalizes either record shape to an Event. It returns false for
// records of unknown shape and for object keys outside the incoming prefix;
// a record missing its message id resolves with an empty MessageID and the
// caller assigns one.
func (r NotificationRecord) Resolve(now time.Time) (Event, bool) {
	switch {
	case r.Mail != nil:
		m := r.Mail.Mail
		ts := m.Timestamp
		if ts.IsZero() {
			ts = now
		}
		return Event{
			MessageID:    m.MessageID,
			BlobKey:      IncomingPrefix + m.MessageID,
			Timestamp:    ts,
			Source:       m.Source,
			Destinations: m.Destination,
		}, true
	case r.Object != nil:
		key := r.Object.Object.Key
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if !strings.HasPrefix(key, IncomingPrefix) {
			return Event{}, false
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, IncomingPrefix), ".eml")
		return Event{
			MessageID: id,
			BlobKey:   key,
			Timestamp: now,
		}, true
	default:
		return Event{}, false
	}
}
