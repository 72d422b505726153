package mailparse

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"strings"

	gomail "github.com/emersion/go-message/mail"

	"github.com/mailroom-io/mailroom/internal/models"
)

// Content is what the extractor pulls out of a message: the first plain
// text part, the first HTML part, and summaries of every named attachment.
type Content struct {
	PlainText   string
	HTML        string
	Attachments []models.Attachment
}

// Extract walks the MIME tree depth-first and collects content. It never
// fails: a part that cannot be read degrades to an absent field and a
// warning, and a message whose body cannot be walked at all falls back to
// treating the whole body as a single part.
func (p *Parser) Extract(msg *Message) Content {
	if msg == nil || len(msg.Raw) == 0 {
		return Content{}
	}
	reader, err := gomail.CreateReader(bytes.NewReader(msg.Raw))
	if err != nil {
		p.logf("mailparse: structured walk failed, using flat body: %v", err)
		return p.extractFlat(msg)
	}
	var content Content
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.logf("mailparse: read part failed: %v", err)
			break
		}
		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			p.collectInline(part, header, &content)
		case *gomail.AttachmentHeader:
			p.collectAttachment(part, header, &content)
		default:
			// Other part kinds carry nothing we index
		}
	}
	return content
}

func (p *Parser) collectInline(part *gomail.Part, header *gomail.InlineHeader, content *Content) {
	mediaType, _, err := header.ContentType()
	if err != nil {
		mediaType, _ = parseMediaType(header.Get("Content-Type"))
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "" {
		mediaType = "text/plain"
	}
	wantPlain := mediaType == "text/plain" && content.PlainText == ""
	wantHTML := mediaType == "text/html" && content.HTML == ""
	if !wantPlain && !wantHTML {
		return
	}
	data, err := io.ReadAll(io.LimitReader(part.Body, p.partLimit))
	if err != nil {
		p.logf("mailparse: read %s part failed: %v", mediaType, err)
		return
	}
	body := strings.ToValidUTF8(string(data), "�")
	if body == "" {
		return
	}
	if wantPlain {
		content.PlainText = body
	} else {
		content.HTML = body
	}
}

// collectAttachment records named attachments only. Unnamed parts marked as
// attachments are skipped so inline noise never reaches the index.
func (p *Parser) collectAttachment(part *gomail.Part, header *gomail.AttachmentHeader, content *Content) {
	filename, err := header.Filename()
	if err != nil || strings.TrimSpace(filename) == "" {
		return
	}
	mediaType, _, ctErr := header.ContentType()
	if ctErr != nil || strings.TrimSpace(mediaType) == "" {
		mediaType, _ = parseMediaType(header.Get("Content-Type"))
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	var size int64
	if part.Body != nil {
		n, readErr := io.Copy(io.Discard, io.LimitReader(part.Body, p.partLimit))
		if readErr != nil {
			p.logf("mailparse: size attachment %s failed: %v", filename, readErr)
		}
		size = n
	}
	content.Attachments = append(content.Attachments, models.Attachment{
		Filename:    filename,
		ContentType: mediaType,
		Size:        size,
	})
}

// extractFlat handles messages whose body cannot be walked as MIME parts:
// the whole body counts as one part of the header's declared type.
func (p *Parser) extractFlat(msg *Message) Content {
	mediaType, _ := parseMediaType(msg.Header("Content-Type"))
	idx := bytes.Index(msg.Raw, []byte("\r\n\r\n"))
	sep := 4
	if idx < 0 {
		idx = bytes.Index(msg.Raw, []byte("\n\n"))
		sep = 2
	}
	if idx < 0 {
		return Content{}
	}
	body := msg.Raw[idx+sep:]
	if int64(len(body)) > p.partLimit {
		body = body[:p.partLimit]
	}
	text := strings.ToValidUTF8(string(body), "�")
	if mediaType == "text/html" {
		return Content{HTML: text}
	}
	return Content{PlainText: text}
}

func parseMediaType(value string) (string, string) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return "", ""
	}
	mediaType := raw
	charset := ""
	if parsed, params, err := mime.ParseMediaType(raw); err == nil {
		mediaType = parsed
		charset = strings.TrimSpace(params["charset"])
	}
	return strings.ToLower(mediaType), strings.ToLower(charset)
}
