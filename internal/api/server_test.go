package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailroom-io/mailroom/internal/blobstore"
	"github.com/mailroom-io/mailroom/internal/cache"
	"github.com/mailroom-io/mailroom/internal/index"
	"github.com/mailroom-io/mailroom/internal/mailparse"
	"github.com/mailroom-io/mailroom/internal/manifest"
	"github.com/mailroom-io/mailroom/internal/metadata"
	"github.com/mailroom-io/mailroom/internal/models"
	"github.com/mailroom-io/mailroom/internal/pipeline"
)

const rawMessage = "From: Alice <alice@example.com>\r\n" +
	"To: inbox@example.org\r\n" +
	"Subject: hello\r\n" +
	"Date: Mon, 31 Aug 2026 09:30:00 +0000\r\n" +
	"\r\n" +
	"body text\r\n"

type testServer struct {
	server *Server
	blobs  *blobstore.MemoryStore
	index  *index.MemoryStore
	comp   *manifest.Compactor
	cache  *cache.LocalCache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	blobs := blobstore.NewMemoryStore()
	idx := index.NewMemoryStore()
	comp := manifest.NewCompactor(
		manifest.NewBlobDocumentStore(blobs),
		manifest.WithCompactorLogger(quiet),
	)
	lc := cache.NewLocalCache(0)
	t.Cleanup(lc.Stop)

	pipe, err := pipeline.New(pipeline.Config{
		Blobs:     blobs,
		Index:     idx,
		Manifests: comp,
		Parser:    mailparse.NewParser(mailparse.WithParserLogger(quiet)),
		Builder:   metadata.NewBuilder("example.org", metadata.WithBuilderLogger(quiet)),
		Cache:     lc,
		Logger:    quiet,
	})
	require.NoError(t, err)

	server := NewServer(Config{
		Pipeline:  pipe,
		Index:     idx,
		Manifests: comp,
		Cache:     lc,
		CacheTTL:  time.Minute,
		Logger:    quiet,
	})
	return &testServer{server: server, blobs: blobs, index: idx, comp: comp, cache: lc}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func ingestPayload(keys ...string) string {
	records := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		records = append(records, map[string]any{
			"s3": map[string]any{
				"bucket": map[string]any{"name": "mail"},
				"object": map[string]any{"key": key},
			},
		})
	}
	body, _ := json.Marshal(map[string]any{"Records": records})
	return string(body)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestEndpoint(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.blobs.Put(context.Background(), "incoming/m1", []byte(rawMessage), "message/rfc822", nil))

	w := ts.do(t, http.MethodPost, "/v1/ingest", ingestPayload("incoming/m1"))
	require.Equal(t, http.StatusOK, w.Code)

	var result pipeline.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Results, 1)
	assert.Equal(t, pipeline.StatusProcessed, result.Results[0].Status)
}

func TestIngestEndpointAllFailed(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/v1/ingest", ingestPayload("incoming/missing"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestIngestEndpointPartialFailure(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.blobs.Put(context.Background(), "incoming/good", []byte(rawMessage), "message/rfc822", nil))

	w := ts.do(t, http.MethodPost, "/v1/ingest", ingestPayload("incoming/good", "incoming/missing"))
	require.Equal(t, http.StatusOK, w.Code)

	var result pipeline.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)
}

func TestIngestEndpointBadPayload(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/ingest", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/ingest", `{"Records": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetManifest(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	entry := models.ManifestEntry{MessageID: "m1", Timestamp: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, ts.comp.MergeEntry(ctx, "2026-09-01", entry))

	w := ts.do(t, http.MethodGet, "/v1/manifests/2026-09-01", "")
	require.Equal(t, http.StatusOK, w.Code)

	var m models.Manifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 1, m.EmailCount)
	assert.Equal(t, "m1", m.Emails[0].MessageID)

	// Second read is served from cache.
	if _, ok := ts.cache.Get(ctx, "manifest:2026-09-01"); !ok {
		t.Error("manifest not cached after first read")
	}
	w = ts.do(t, http.MethodGet, "/v1/manifests/2026-09-01", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetManifestNotFound(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/v1/manifests/2026-09-01", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetManifestBadDate(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/v1/manifests/yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessage(t *testing.T) {
	ts := newTestServer(t)
	rec := &models.MessageRecord{
		MessageID:     "m1",
		Timestamp:     time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		PartitionDate: "2026-09-01",
		Subject:       "hello",
		BlobKey:       "processed/2026-09-01/m1.eml",
	}
	require.NoError(t, ts.index.Upsert(context.Background(), rec))

	w := ts.do(t, http.MethodGet, "/v1/messages/m1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got models.MessageRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "hello", got.Subject)
}

func TestGetMessageNotFound(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/v1/messages/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMessagesByRecipient(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	for i, id := range []string{"m1", "m2"} {
		rec := &models.MessageRecord{
			MessageID:      id,
			Timestamp:      time.Date(2026, 9, 1, 9, i, 0, 0, time.UTC),
			PartitionDate:  "2026-09-01",
			RecipientEmail: "box@example.org",
			BlobKey:        "processed/2026-09-01/" + id + ".eml",
		}
		require.NoError(t, ts.index.Upsert(ctx, rec))
	}

	w := ts.do(t, http.MethodGet, "/v1/messages?recipient=box@example.org", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Messages []models.MessageRecord `json:"messages"`
		Count    int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	w = ts.do(t, http.MethodGet, "/v1/messages", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/messages?recipient=box@example.org&limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
