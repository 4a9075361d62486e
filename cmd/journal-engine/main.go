// Command journal-engine runs the journal storage engine standalone:
// the append-only, segmented log that backs both the MQTT broker's
// PUBLISH persistence and the Kafka-compatible broker's partitions
// (spec.md §4.3).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"

	"github.com/robustmq/robustmq/internal/config"
	"github.com/robustmq/robustmq/internal/journal"
	"github.com/robustmq/robustmq/internal/journal/backend/local"
	"github.com/robustmq/robustmq/internal/journal/index"
	"github.com/robustmq/robustmq/internal/logging"
)

func main() {
	configPath := flag.String("config", "./config/journal-engine.toml", "path to the journal-engine TOML config")
	flag.Parse()

	cfg, err := config.ParseFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("journal-engine", cfg.Log.Level)
	level.Info(logger).Log("msg", "starting journal-engine", "storage_path", cfg.Journal.StoragePath, "backend", cfg.Journal.Backend)

	backend, err := local.New(cfg.Journal.StoragePath)
	if err != nil {
		level.Error(logger).Log("msg", "failed opening local backend", "err", err)
		os.Exit(1)
	}

	idx, err := index.Open(cfg.Journal.StoragePath + "/index.db")
	if err != nil {
		level.Error(logger).Log("msg", "failed opening journal index", "err", err)
		os.Exit(1)
	}
	defer idx.Close()

	meta := journal.NewSingleNodeMeta(idx)

	engine := journal.NewEngine(journal.Config{
		LocalRoot:       cfg.Journal.StoragePath,
		SegmentMaxBytes: cfg.Journal.SegmentMaxBytes,
		Backend:         backend,
		Index:           idx,
		Locator:         meta,
		Opener:          meta,
		OnSealed:        meta.OnSealed,
		CacheMaxBytes:   cfg.Journal.LocalCacheMaxBytes,
	}, logger)
	_ = engine

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level.Info(logger).Log("msg", "journal-engine ready")
	<-ctx.Done()
	level.Info(logger).Log("msg", "shutting down journal-engine")
}
