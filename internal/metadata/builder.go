package metadata

import (
	"log"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mailroom-io/mailroom/internal/blobstore"
	"github.com/mailroom-io/mailroom/internal/mailparse"
	"github.com/mailroom-io/mailroom/internal/models"
)

const (
	headerLimit  = 1000
	previewLimit = 500
)

// Builder derives the canonical MessageRecord from a parsed message and the
// gateway-provided event metadata. Building never fails: every field has a
// fallback or an empty default.
type Builder struct {
	logger  *log.Logger
	decoder *mime.WordDecoder
	policy  *bluemonday.Policy
	domain  string
	now     func() time.Time
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// NewBuilder creates a builder stamping records with the given owning domain.
func NewBuilder(domain string, opts ...BuilderOption) *Builder {
	b := &Builder{
		logger:  log.Default(),
		decoder: &mime.WordDecoder{},
		policy:  bluemonday.StrictPolicy(),
		domain:  domain,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithBuilderLogger overrides the logger used for degrade warnings.
func WithBuilderLogger(logger *log.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBuilderClock overrides the clock used for processedAt stamps.
func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// Build derives the full record. Header values win over event metadata; the
// event supplies fallbacks for from/to and the arrival timestamp.
func (b *Builder) Build(msg *mailparse.Message, content mailparse.Content, evt models.Event) *models.MessageRecord {
	from := b.decodeHeader(msg.Header("From"))
	if from == "" {
		from = evt.Source
	}
	to := b.decodeHeader(msg.Header("To"))
	if to == "" {
		to = strings.Join(evt.Destinations, ", ")
	}

	ts := b.resolveTimestamp(msg.Header("Date"), evt)
	date := ts.UTC().Format("2006-01-02")

	rec := &models.MessageRecord{
		MessageID:       evt.MessageID,
		Timestamp:       ts,
		PartitionDate:   date,
		Subject:         truncate(b.decodeHeader(msg.Header("Subject")), headerLimit),
		From:            truncate(from, headerLimit),
		To:              truncate(to, headerLimit),
		Cc:              truncate(b.decodeHeader(msg.Header("Cc")), headerLimit),
		Bcc:             truncate(b.decodeHeader(msg.Header("Bcc")), headerLimit),
		ReplyTo:         truncate(b.decodeHeader(msg.Header("Reply-To")), headerLimit),
		SenderEmail:     addressPart(from),
		RecipientEmail:  addressPart(to),
		BlobKey:         blobstore.ProcessedKey(date, evt.MessageID),
		Size:            int64(len(msg.Raw)),
		Attachments:     content.Attachments,
		BodyTextPreview: truncate(content.PlainText, previewLimit),
		BodyHTMLPreview: truncate(b.sanitizeHTML(content.HTML), previewLimit),
		ProcessedAt:     b.now().UTC(),
		Domain:          b.domain,
	}
	return rec
}

// resolveTimestamp prefers the message's own Date header. A missing or
// malformed header degrades silently to the event-provided arrival time.
func (b *Builder) resolveTimestamp(dateHeader string, evt models.Event) time.Time {
	dateHeader = strings.TrimSpace(dateHeader)
	if dateHeader != "" {
		if parsed, err := stdmail.ParseDate(dateHeader); err == nil {
			return parsed
		}
		b.logf("metadata: unparseable Date header %q, using arrival time", dateHeader)
	}
	if evt.Timestamp.IsZero() {
		return b.now().UTC()
	}
	return evt.Timestamp
}

func (b *Builder) sanitizeHTML(html string) string {
	if html == "" || b.policy == nil {
		return html
	}
	return strings.TrimSpace(b.policy.Sanitize(html))
}

func (b *Builder) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || b.decoder == nil {
		return value
	}
	decoded, err := b.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func (b *Builder) logf(format string, args ...any) {
	if b == nil || b.logger == nil {
		return
	}
	b.logger.Printf(format, args...)
}

// addressPart extracts the bare address from a "Display Name <addr>" form.
// A value that does not parse as an address list is returned trimmed.
func addressPart(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if addrs, err := stdmail.ParseAddressList(value); err == nil && len(addrs) > 0 {
		return strings.TrimSpace(addrs[0].Address)
	}
	if addr, err := stdmail.ParseAddress(value); err == nil {
		return strings.TrimSpace(addr.Address)
	}
	return value
}

func truncate(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
