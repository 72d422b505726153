package models

import "time"

// Attachment summarizes one named attachment part of a message.
type Attachment struct {
	Filename    string `json:"filename" dynamodbav:"filename"`
	ContentType string `json:"contentType" dynamodbav:"contentType"`
	Size        int64  `json:"size" dynamodbav:"size"`
}

// MessageRecord is the canonical per-message index record. It is immutable
// once written; re-ingesting the same message id produces an identical record.
//
// Empty fields are omitted from the persisted representation (omitempty on
// the storage tags, NULL columns on SQL backends) so sparse records stay small.
type MessageRecord struct {
	MessageID       string       `json:"messageId" db:"message_id" dynamodbav:"messageId"`
	Timestamp       time.Time    `json:"timestamp" db:"timestamp" dynamodbav:"timestamp"`
	PartitionDate   string       `json:"date" db:"partition_date" dynamodbav:"date"`
	Subject         string       `json:"subject,omitempty" db:"subject" dynamodbav:"subject,omitempty"`
	From            string       `json:"from,omitempty" db:"from_header" dynamodbav:"from,omitempty"`
	To              string       `json:"to,omitempty" db:"to_header" dynamodbav:"to,omitempty"`
	Cc              string       `json:"cc,omitempty" db:"cc_header" dynamodbav:"cc,omitempty"`
	Bcc             string       `json:"bcc,omitempty" db:"bcc_header" dynamodbav:"bcc,omitempty"`
	ReplyTo         string       `json:"replyTo,omitempty" db:"reply_to" dynamodbav:"replyTo,omitempty"`
	SenderEmail     string       `json:"senderEmail,omitempty" db:"sender_email" dynamodbav:"senderEmail,omitempty"`
	RecipientEmail  string       `json:"recipientEmail,omitempty" db:"recipient_email" dynamodbav:"recipientEmail,omitempty"`
	BlobKey         string       `json:"blobKey" db:"blob_key" dynamodbav:"blobKey"`
	Size            int64        `json:"size" db:"size" dynamodbav:"size"`
	Attachments     []Attachment `json:"attachments,omitempty" db:"-" dynamodbav:"attachments,omitempty"`
	BodyTextPreview string       `json:"bodyTextPreview,omitempty" db:"body_text_preview" dynamodbav:"bodyTextPreview,omitempty"`
	BodyHTMLPreview string       `json:"bodyHtmlPreview,omitempty" db:"body_html_preview" dynamodbav:"bodyHtmlPreview,omitempty"`
	ProcessedAt     time.Time    `json:"processedAt" db:"processed_at" dynamodbav:"processedAt"`
	Domain          string       `json:"domain,omitempty" db:"domain" dynamodbav:"domain,omitempty"`
}

// HasAttachments reports whether the record carries at least one attachment.
func (r *MessageRecord) HasAttachments() bool {
	return len(r.Attachments) > 0
}

// ManifestEntry projects a MessageRecord into its manifest listing form.
func (r *MessageRecord) ManifestEntry() ManifestEntry {
	return ManifestEntry{
		MessageID:      r.MessageID,
		Timestamp:      r.Timestamp,
		BlobKey:        r.BlobKey,
		Subject:        r.Subject,
		From:           r.From,
		To:             r.To,
		Size:           r.Size,
		HasAttachments: r.HasAttachments(),
	}
}
