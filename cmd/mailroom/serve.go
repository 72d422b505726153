package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/spf13/cobra"

	"github.com/mailroom-io/mailroom/internal/api"
	"github.com/mailroom-io/mailroom/internal/blobstore"
	"github.com/mailroom-io/mailroom/internal/cache"
	"github.com/mailroom-io/mailroom/internal/config"
	"github.com/mailroom-io/mailroom/internal/forward"
	"github.com/mailroom-io/mailroom/internal/index"
	"github.com/mailroom-io/mailroom/internal/mailparse"
	"github.com/mailroom-io/mailroom/internal/manifest"
	"github.com/mailroom-io/mailroom/internal/metadata"
	"github.com/mailroom-io/mailroom/internal/pipeline"
	"github.com/mailroom-io/mailroom/internal/sweeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion and query HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "mailroom ", log.LstdFlags|log.Lmsgprefix)

	loader, err := config.Load(configFlag, logger)
	if err != nil {
		return err
	}
	cfg := loader.Get()

	blobs, err := blobstore.New(cfg.Blob)
	if err != nil {
		return err
	}
	idx, err := index.New(cfg.Index)
	if err != nil {
		return err
	}

	var store cache.Cache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer rc.Close()
		store = rc
	} else {
		lc := cache.NewLocalCache(0)
		defer lc.Stop()
		store = lc
	}

	metrics := pipeline.NewMetrics()
	compactor := manifest.NewCompactor(
		manifest.NewBlobDocumentStore(blobs),
		manifest.WithCompactorLogger(logger),
		manifest.WithCompactorConflictHook(metrics.ConflictHook()),
	)

	matcher, err := buildMatcher(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	loader.WatchForwarding(matcher.SetRules)

	pipe, err := pipeline.New(pipeline.Config{
		Blobs:     blobs,
		Index:     idx,
		Manifests: compactor,
		Matcher:   matcher,
		Parser:    mailparse.NewParser(mailparse.WithParserLogger(logger)),
		Builder:   metadata.NewBuilder(cfg.App.Domain, metadata.WithBuilderLogger(logger)),
		Cache:     store,
		DedupTTL:  cfg.Pipeline.DedupTTL,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(api.Config{
		Pipeline:  pipe,
		Index:     idx,
		Manifests: compactor,
		Cache:     store,
		CacheTTL:  cfg.Pipeline.ManifestCacheTTL,
		Logger:    logger,
		Debug:     cfg.App.Debug,
	})

	if cfg.Sweeper.Enabled {
		sw := sweeper.New(idx, compactor, sweeper.WithLogger(logger))
		if err := sw.Start(cfg.Sweeper.Schedule); err != nil {
			return err
		}
		defer sw.Stop()
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("serve: listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Printf("serve: received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}
	logger.Printf("serve: stopped")
	return nil
}

func buildMatcher(ctx context.Context, cfg *config.Config, logger *log.Logger) (*forward.Matcher, error) {
	rules, err := cfg.Forwarding.CompiledRules()
	if err != nil {
		return nil, err
	}

	var sender forward.RawSender
	switch cfg.Forwarding.Transport {
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Forwarding.Region))
		if err != nil {
			return nil, fmt.Errorf("serve: load aws config: %w", err)
		}
		client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			if cfg.Forwarding.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Forwarding.Endpoint)
			}
		})
		sender = forward.NewSESSender(client)
	case "smtp":
		sender = forward.NewSMTPSender(cfg.Forwarding.SMTP)
	default:
		sender = forward.NoopSender{}
	}
	return forward.NewMatcher(rules, sender, forward.WithMatcherLogger(logger)), nil
}
