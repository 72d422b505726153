// Package api exposes the ingestion and query HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailroom-io/mailroom/internal/blobstore"
	"github.com/mailroom-io/mailroom/internal/cache"
	"github.com/mailroom-io/mailroom/internal/index"
	"github.com/mailroom-io/mailroom/internal/manifest"
	"github.com/mailroom-io/mailroom/internal/models"
	"github.com/mailroom-io/mailroom/internal/pipeline"
)

const manifestCacheKeyPrefix = "manifest:"

// Server wires the HTTP routes to the pipeline and the stores.
type Server struct {
	pipeline  *pipeline.Pipeline
	index     index.Store
	manifests *manifest.Compactor
	cache     cache.Cache
	cacheTTL  time.Duration
	logger    *log.Logger
	engine    *gin.Engine
}

// Config collects the Server's collaborators.
type Config struct {
	Pipeline  *pipeline.Pipeline
	Index     index.Store
	Manifests *manifest.Compactor
	Cache     cache.Cache
	CacheTTL  time.Duration
	Logger    *log.Logger
	Debug     bool
}

// NewServer builds the router. Routes are fixed at construction.
func NewServer(cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		pipeline:  cfg.Pipeline,
		index:     cfg.Index,
		manifests: cfg.Manifests,
		cache:     cfg.Cache,
		cacheTTL:  cfg.CacheTTL,
		logger:    cfg.Logger,
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = time.Minute
	}
	if s.logger == nil {
		s.logger = log.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/ingest", s.handleIngest)
		v1.GET("/manifests/:date", s.handleGetManifest)
		v1.GET("/messages/:id", s.handleGetMessage)
		v1.GET("/messages", s.handleListMessages)
	}

	s.engine = r
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleIngest accepts an inbound notification and processes every record.
// The response always reports per-record outcomes; the status code is 500
// only when nothing in the batch succeeded.
func (s *Server) handleIngest(c *gin.Context) {
	var n models.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification payload"})
		return
	}
	if len(n.Records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "notification has no records"})
		return
	}

	result := s.pipeline.ProcessNotification(c.Request.Context(), n)
	status := http.StatusOK
	if result.Failed > 0 && result.Processed == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, result)
}

func (s *Server) handleGetManifest(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	cacheKey := manifestCacheKeyPrefix + date
	if cached, ok := s.cache.Get(c.Request.Context(), cacheKey); ok {
		c.Data(http.StatusOK, "application/json", cached)
		return
	}

	m, err := s.manifests.Load(c.Request.Context(), date)
	if errors.Is(err, blobstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no manifest for date"})
		return
	}
	if err != nil {
		s.logger.Printf("api: load manifest %s: %v", date, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "manifest unavailable"})
		return
	}

	body, err := json.Marshal(m)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "manifest unavailable"})
		return
	}
	s.cache.Set(c.Request.Context(), cacheKey, body, s.cacheTTL)
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handleGetMessage(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.index.Get(c.Request.Context(), id)
	if errors.Is(err, index.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if err != nil {
		s.logger.Printf("api: get message %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleListMessages(c *gin.Context) {
	recipient := c.Query("recipient")
	if recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient query parameter required"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1-1000"})
			return
		}
		limit = n
	}
	records, err := s.index.ListByRecipient(c.Request.Context(), recipient, limit)
	if err != nil {
		s.logger.Printf("api: list by recipient %s: %v", recipient, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": records, "count": len(records)})
}
