package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mailroom-io/mailroom/internal/models"
)

// PostgresStore keeps index records in a single table with a unique primary
// key on message_id and secondary indexes on recipient_email and
// partition_date. Empty header fields are stored as NULL.
type PostgresStore struct {
	db    *sqlx.DB
	table string
}

var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewPostgresStore wraps an open connection for one table.
func NewPostgresStore(db *sqlx.DB, table string) (*PostgresStore, error) {
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("index: invalid table name %q", table)
	}
	return &PostgresStore{db: db, table: table}, nil
}

func init() {
	Register("postgres", func(cfg Config) (Store, error) {
		db, err := sqlx.Connect("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("index: connect postgres: %w", err)
		}
		store, err := NewPostgresStore(db, cfg.Table)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	})
}

// EnsureSchema creates the table and secondary indexes if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				message_id        TEXT PRIMARY KEY,
				timestamp         TIMESTAMPTZ NOT NULL,
				partition_date    TEXT NOT NULL,
				subject           TEXT,
				from_header       TEXT,
				to_header         TEXT,
				cc_header         TEXT,
				bcc_header        TEXT,
				reply_to          TEXT,
				sender_email      TEXT,
				recipient_email   TEXT,
				blob_key          TEXT NOT NULL,
				size              BIGINT NOT NULL,
				attachments       JSONB,
				body_text_preview TEXT,
				body_html_preview TEXT,
				processed_at      TIMESTAMPTZ NOT NULL,
				domain            TEXT
			)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_recipient_idx ON %s (recipient_email)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_date_idx ON %s (partition_date)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec *models.MessageRecord) error {
	var attachments []byte
	if len(rec.Attachments) > 0 {
		data, err := json.Marshal(rec.Attachments)
		if err != nil {
			return fmt.Errorf("index: marshal attachments: %w", err)
		}
		attachments = data
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (
			message_id, timestamp, partition_date, subject, from_header,
			to_header, cc_header, bcc_header, reply_to, sender_email,
			recipient_email, blob_key, size, attachments,
			body_text_preview, body_html_preview, processed_at, domain
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''),
			NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			NULLIF($11, ''), $12, $13, $14,
			NULLIF($15, ''), NULLIF($16, ''), $17, NULLIF($18, '')
		)
		ON CONFLICT (message_id) DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			partition_date = EXCLUDED.partition_date,
			subject = EXCLUDED.subject,
			from_header = EXCLUDED.from_header,
			to_header = EXCLUDED.to_header,
			cc_header = EXCLUDED.cc_header,
			bcc_header = EXCLUDED.bcc_header,
			reply_to = EXCLUDED.reply_to,
			sender_email = EXCLUDED.sender_email,
			recipient_email = EXCLUDED.recipient_email,
			blob_key = EXCLUDED.blob_key,
			size = EXCLUDED.size,
			attachments = EXCLUDED.attachments,
			body_text_preview = EXCLUDED.body_text_preview,
			body_html_preview = EXCLUDED.body_html_preview,
			processed_at = EXCLUDED.processed_at,
			domain = EXCLUDED.domain`, s.table)
	_, err := s.db.ExecContext(ctx, query,
		rec.MessageID,
		rec.Timestamp,
		rec.PartitionDate,
		rec.Subject,
		rec.From,
		rec.To,
		rec.Cc,
		rec.Bcc,
		rec.ReplyTo,
		rec.SenderEmail,
		rec.RecipientEmail,
		rec.BlobKey,
		rec.Size,
		attachments,
		rec.BodyTextPreview,
		rec.BodyHTMLPreview,
		rec.ProcessedAt,
		rec.Domain,
	)
	if err != nil {
		return fmt.Errorf("index: upsert %s: %w", rec.MessageID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, messageID string) (*models.MessageRecord, error) {
	var row messageRow
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE message_id = $1`, rowColumns, s.table)
	if err := s.db.GetContext(ctx, &row, query, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("index: get %s: %w", messageID, err)
	}
	return row.record()
}

func (s *PostgresStore) ListByDate(ctx context.Context, partitionDate string) ([]models.MessageRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE partition_date = $1 ORDER BY timestamp DESC, message_id ASC`, rowColumns, s.table)
	return s.list(ctx, query, partitionDate)
}

func (s *PostgresStore) ListByRecipient(ctx context.Context, recipientEmail string, limit int) ([]models.MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE recipient_email = $1 ORDER BY timestamp DESC, message_id ASC LIMIT %d`, rowColumns, s.table, limit)
	return s.list(ctx, query, recipientEmail)
}

func (s *PostgresStore) list(ctx context.Context, query string, arg any) ([]models.MessageRecord, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	out := make([]models.MessageRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

const rowColumns = `message_id, timestamp, partition_date, subject, from_header,
	to_header, cc_header, bcc_header, reply_to, sender_email, recipient_email,
	blob_key, size, attachments, body_text_preview, body_html_preview,
	processed_at, domain`

type messageRow struct {
	MessageID       string         `db:"message_id"`
	Timestamp       time.Time      `db:"timestamp"`
	PartitionDate   string         `db:"partition_date"`
	Subject         sql.NullString `db:"subject"`
	From            sql.NullString `db:"from_header"`
	To              sql.NullString `db:"to_header"`
	Cc              sql.NullString `db:"cc_header"`
	Bcc             sql.NullString `db:"bcc_header"`
	ReplyTo         sql.NullString `db:"reply_to"`
	SenderEmail     sql.NullString `db:"sender_email"`
	RecipientEmail  sql.NullString `db:"recipient_email"`
	BlobKey         string         `db:"blob_key"`
	Size            int64          `db:"size"`
	Attachments     []byte         `db:"attachments"`
	BodyTextPreview sql.NullString `db:"body_text_preview"`
	BodyHTMLPreview sql.NullString `db:"body_html_preview"`
	ProcessedAt     time.Time      `db:"processed_at"`
	Domain          sql.NullString `db:"domain"`
}

func (r *messageRow) record() (*models.MessageRecord, error) {
	rec := &models.MessageRecord{
		MessageID:       r.MessageID,
		Timestamp:       r.Timestamp,
		PartitionDate:   r.PartitionDate,
		Subject:         r.Subject.String,
		From:            r.From.String,
		To:              r.To.String,
		Cc:              r.Cc.String,
		Bcc:             r.Bcc.String,
		ReplyTo:         r.ReplyTo.String,
		SenderEmail:     r.SenderEmail.String,
		RecipientEmail:  r.RecipientEmail.String,
		BlobKey:         r.BlobKey,
		Size:            r.Size,
		BodyTextPreview: r.BodyTextPreview.String,
		BodyHTMLPreview: r.BodyHTMLPreview.String,
		ProcessedAt:     r.ProcessedAt,
		Domain:          r.Domain.String,
	}
	if len(r.Attachments) > 0 {
		if err := json.Unmarshal(r.Attachments, &rec.Attachments); err != nil {
			return nil, fmt.Errorf("index: unmarshal attachments for %s: %w", r.MessageID, err)
		}
	}
	return rec, nil
}
