// Package pipeline orchestrates one message's journey from raw blob to
// index record and manifest entry. Blob and index writes are the
// durability-critical path; manifest maintenance and forwarding are
// best-effort and never fail a message that is already stored.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/blobstore"
	"github.com/mailroom-io/mailroom/internal/cache"
	"github.com/mailroom-io/mailroom/internal/forward"
	"github.com/mailroom-io/mailroom/internal/index"
	"github.com/mailroom-io/mailroom/internal/mailparse"
	"github.com/mailroom-io/mailroom/internal/manifest"
	"github.com/mailroom-io/mailroom/internal/metadata"
	"github.com/mailroom-io/mailroom/internal/models"
)

const (
	dedupKeyPrefix    = "ingested:"
	manifestKeyPrefix = "manifest:"
	defaultDedupTTL   = 24 * time.Hour
)

// Config wires a Pipeline's collaborators. Blobs, Index, Manifests, Parser,
// and Builder are required.
type Config struct {
	Blobs     blobstore.Store
	Index     index.Store
	Manifests *manifest.Compactor
	Matcher   *forward.Matcher
	Parser    *mailparse.Parser
	Builder   *metadata.Builder
	Cache     cache.Cache
	DedupTTL  time.Duration
	Logger    *log.Logger
	Metrics   *Metrics
}

// Pipeline ingests messages. It is safe for concurrent use: per-message
// state is local, and the shared manifest is guarded by the compactor's
// optimistic concurrency.
type Pipeline struct {
	blobs     blobstore.Store
	index     index.Store
	manifests *manifest.Compactor
	matcher   *forward.Matcher
	parser    *mailparse.Parser
	builder   *metadata.Builder
	cache     cache.Cache
	dedupTTL  time.Duration
	logger    *log.Logger
	metrics   *Metrics
}

// New validates the wiring and builds a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Blobs == nil:
		return nil, errors.New("pipeline: blob store required")
	case cfg.Index == nil:
		return nil, errors.New("pipeline: index store required")
	case cfg.Manifests == nil:
		return nil, errors.New("pipeline: manifest compactor required")
	case cfg.Parser == nil:
		return nil, errors.New("pipeline: parser required")
	case cfg.Builder == nil:
		return nil, errors.New("pipeline: metadata builder required")
	}
	p := &Pipeline{
		blobs:     cfg.Blobs,
		index:     cfg.Index,
		manifests: cfg.Manifests,
		matcher:   cfg.Matcher,
		parser:    cfg.Parser,
		builder:   cfg.Builder,
		cache:     cfg.Cache,
		dedupTTL:  cfg.DedupTTL,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if p.cache == nil {
		p.cache = cache.Nop{}
	}
	if p.dedupTTL <= 0 {
		p.dedupTTL = defaultDedupTTL
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	return p, nil
}

// RecordResult is the outcome for one notification record.
type RecordResult struct {
	MessageID string `json:"messageId,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Record statuses.
const (
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"
	StatusFailed    = "failed"
)

// BatchResult summarizes one notification's records. Records fail
// independently: one bad message never aborts its batch.
type BatchResult struct {
	Processed int            `json:"processedCount"`
	Failed    int            `json:"failedCount"`
	Ignored   int            `json:"ignoredCount"`
	Results   []RecordResult `json:"results"`
}

// ProcessNotification ingests every record in the notification.
func (p *Pipeline) ProcessNotification(ctx context.Context, n models.Notification) BatchResult {
	var batch BatchResult
	for _, rec := range n.Records {
		evt, ok := rec.Resolve(time.Now().UTC())
		if !ok || evt.BlobKey == models.IncomingPrefix {
			p.logger.Printf("pipeline: ignoring record of unknown shape or key")
			batch.Ignored++
			batch.Results = append(batch.Results, RecordResult{Status: StatusIgnored})
			continue
		}
		if evt.MessageID == "" {
			evt.MessageID = uuid.NewString()
			p.logger.Printf("pipeline: record missing message id, assigned %s", evt.MessageID)
		}
		result := p.processEvent(ctx, evt)
		batch.Results = append(batch.Results, result)
		switch result.Status {
		case StatusFailed:
			batch.Failed++
		case StatusIgnored:
			batch.Ignored++
		default:
			batch.Processed++
		}
	}
	return batch
}

func (p *Pipeline) processEvent(ctx context.Context, evt models.Event) RecordResult {
	err := p.Ingest(ctx, evt)
	switch {
	case err == nil:
		return RecordResult{MessageID: evt.MessageID, Status: StatusProcessed}
	case errors.Is(err, errDuplicate):
		return RecordResult{MessageID: evt.MessageID, Status: StatusDuplicate}
	default:
		p.logger.Printf("pipeline: ingest %s failed: %v", evt.MessageID, err)
		return RecordResult{MessageID: evt.MessageID, Status: StatusFailed, Error: err.Error()}
	}
}

var errDuplicate = errors.New("pipeline: duplicate message")

// Ingest runs the full pipeline for one resolved event. The returned error
// is nil once the message is durable (blob + index), even if manifest
// maintenance or forwarding degraded.
func (p *Pipeline) Ingest(ctx context.Context, evt models.Event) error {
	start := time.Now()

	if _, seen := p.cache.Get(ctx, dedupKeyPrefix+evt.MessageID); seen {
		p.logger.Printf("pipeline: %s already ingested, skipping", evt.MessageID)
		if p.metrics != nil {
			p.metrics.duplicatesSkipped.Inc()
		}
		return errDuplicate
	}

	raw, err := p.blobs.Get(ctx, evt.BlobKey)
	if err != nil {
		p.countStoreFailure()
		return &StoreError{Op: fmt.Sprintf("fetch %s", evt.BlobKey), Err: err}
	}

	msg, err := p.parser.Parse(raw)
	if err != nil {
		if p.metrics != nil {
			p.metrics.parseFailures.Inc()
		}
		return err
	}
	content := p.parser.Extract(msg)
	rec := p.builder.Build(msg, content, evt)

	if err := p.storeCanonical(ctx, rec, raw); err != nil {
		p.countStoreFailure()
		return err
	}
	if err := p.index.Upsert(ctx, rec); err != nil {
		p.countStoreFailure()
		return &StoreError{Op: fmt.Sprintf("index %s", rec.MessageID), Err: err}
	}

	// The message is durable from here on. Manifest and forwarding results
	// are observed but never propagated.
	p.mergeManifest(ctx, rec)
	p.forwardMessage(ctx, rec, raw)

	p.cache.Set(ctx, dedupKeyPrefix+rec.MessageID, []byte(rec.PartitionDate), p.dedupTTL)
	if p.metrics != nil {
		p.metrics.processed.Inc()
		p.metrics.duration.Observe(time.Since(start).Seconds())
	}
	p.logger.Printf("pipeline: processed %s (%d bytes)", rec.MessageID, rec.Size)
	return nil
}

func (p *Pipeline) storeCanonical(ctx context.Context, rec *models.MessageRecord, raw []byte) error {
	meta := map[string]string{
		"messageId": rec.MessageID,
		"date":      rec.PartitionDate,
	}
	if rec.Subject != "" {
		meta["subject"] = rec.Subject
	}
	if rec.From != "" {
		meta["from"] = rec.From
	}
	if rec.To != "" {
		meta["to"] = rec.To
	}
	if err := p.blobs.Put(ctx, rec.BlobKey, raw, "message/rfc822", meta); err != nil {
		return &StoreError{Op: fmt.Sprintf("store %s", rec.BlobKey), Err: err}
	}
	return nil
}

func (p *Pipeline) mergeManifest(ctx context.Context, rec *models.MessageRecord) {
	err := p.manifests.MergeEntry(ctx, rec.PartitionDate, rec.ManifestEntry())
	if err == nil {
		p.cache.Delete(ctx, manifestKeyPrefix+rec.PartitionDate)
		return
	}
	if errors.Is(err, manifest.ErrConflictExhausted) && p.metrics != nil {
		p.metrics.manifestExhausted.Inc()
	}
	// Stale manifests are recoverable by a rebuild from the index.
	p.logger.Printf("pipeline: manifest merge for %s failed: %v", rec.PartitionDate, err)
}

func (p *Pipeline) forwardMessage(ctx context.Context, rec *models.MessageRecord, raw []byte) {
	if p.matcher == nil {
		return
	}
	matched, err := p.matcher.Forward(ctx, rec.RecipientEmail, raw)
	if err != nil {
		if p.metrics != nil {
			p.metrics.forwardFailures.Inc()
		}
		p.logger.Printf("pipeline: forward %s failed: %v", rec.MessageID, err)
		return
	}
	if matched && p.metrics != nil {
		p.metrics.forwarded.Inc()
	}
}

func (p *Pipeline) countStoreFailure() {
	if p.metrics != nil {
		p.metrics.storeFailures.Inc()
	}
}
