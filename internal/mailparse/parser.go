package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/textproto"
	stdmail "net/mail"

	gomessage "github.com/emersion/go-message"
	htmlcharset "golang.org/x/net/html/charset"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// ParseError marks message bytes the parser could not make sense of. The
// caller treats it as a message-level failure: logged and counted, never
// retried by the pipeline itself.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mailparse: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Message is a parsed inbound message: the canonical raw bytes plus a
// case-insensitive view of the header block.
type Message struct {
	Raw    []byte
	header textproto.MIMEHeader
}

// Header returns the first value for the named header, or "".
func (m *Message) Header(name string) string {
	if m == nil || m.header == nil {
		return ""
	}
	return m.header.Get(name)
}

// HeaderValues returns every value for the named header.
func (m *Message) HeaderValues(name string) []string {
	if m == nil || m.header == nil {
		return nil
	}
	return m.header.Values(name)
}

const defaultPartLimit = 10 * 1024 * 1024

// Parser turns raw RFC 5322 bytes into a Message and extracts its content.
type Parser struct {
	logger    *log.Logger
	partLimit int64
}

// ParserOption customizes a Parser.
type ParserOption func(*Parser)

// NewParser builds a parser with the default part size limit.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		logger:    log.Default(),
		partLimit: defaultPartLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// WithParserLogger overrides the logger used for extraction warnings.
func WithParserLogger(logger *log.Logger) ParserOption {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithParserPartLimit constrains how many bytes of any single part are read.
func WithParserPartLimit(limit int64) ParserOption {
	return func(p *Parser) {
		if limit > 0 {
			p.partLimit = limit
		}
	}
}

// Parse reads the header block and retains the canonical bytes. The body is
// not decoded here; Extract walks the MIME tree on demand.
func (p *Parser) Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, &ParseError{Err: fmt.Errorf("empty message")}
	}
	parsed, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return &Message{
		Raw:    raw,
		header: textproto.MIMEHeader(parsed.Header),
	}, nil
}

func (p *Parser) logf(format string, args ...any) {
	if p == nil || p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
