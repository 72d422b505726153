package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailroom-io/mailroom/internal/blobstore"
	"github.com/mailroom-io/mailroom/internal/config"
	"github.com/mailroom-io/mailroom/internal/index"
	"github.com/mailroom-io/mailroom/internal/manifest"
	"github.com/mailroom-io/mailroom/internal/sweeper"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-manifest <date>",
	Short: "Rebuild one date's manifest from the index",
	Long: `Rebuild replaces the manifest for the given date (YYYY-MM-DD) with
the index's records for that date. Use it to repair a manifest that
drifted after conflict-retry exhaustion or a partial outage.`,
	Args: cobra.ExactArgs(1),
	RunE: runRebuild,
}

func runRebuild(cmd *cobra.Command, args []string) error {
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
	compactor := manifest.NewCompactor(
		manifest.NewBlobDocumentStore(blobs),
		manifest.WithCompactorLogger(logger),
	)

	sw := sweeper.New(idx, compactor, sweeper.WithLogger(logger))
	return sw.RebuildDate(cmd.Context(), args[0])
}
