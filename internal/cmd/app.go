package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/masahif/adtrail/internal/config"
	"github.com/masahif/adtrail/internal/metrics"
	"github.com/masahif/adtrail/internal/pipeline"
	"github.com/masahif/adtrail/internal/queue"
	"github.com/masahif/adtrail/internal/storage"
)

// pipelineQueues lists the queues in pipeline order.
var pipelineQueues = []string{pipeline.ListingQueue, pipeline.StorageQueue, pipeline.DetailQueue}

// openBroker opens the job queue database, creating its directory first.
func openBroker(cfg *config.Config) (*queue.SQLiteBroker, error) {
	if err := ensureDir(cfg.DatabasePath); err != nil {
		return nil, err
	}
	broker, err := queue.NewSQLiteBroker(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database %s: %w", cfg.DatabasePath, err)
	}
	return broker, nil
}

// openStore connects the configured product store backend.
func openStore(ctx context.Context, cfg *config.Config) (storage.ProductStore, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		store, err := storage.NewMongoStore(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, cfg.Store.MongoCollection)
		if err != nil {
			return nil, fmt.Errorf("failed to connect product store: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		if err := ensureDir(cfg.Store.Path); err != nil {
			return nil, err
		}
		store, err := storage.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open product store %s: %w", cfg.Store.Path, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStoreDriver, cfg.Store.Driver)
	}
}

// newOrchestrator registers the pipeline stages on broker. Commands that
// only submit or inspect jobs pass zero Deps.
func newOrchestrator(cfg *config.Config, broker queue.Broker, deps pipeline.Deps, m *metrics.Metrics) (*queue.Orchestrator, error) {
	deps.Config = cfg.Pipeline
	deps.Metrics = m
	return queue.NewOrchestrator(broker, pipeline.Stages(deps), queue.Options{
		PollInterval: cfg.PollInterval,
		StaleTimeout: cfg.StaleTimeout,
		Metrics:      m,
	})
}

// checkQueue rejects names that are not pipeline queues. Empty means all.
func checkQueue(name string) error {
	if name == "" || slices.Contains(pipelineQueues, name) {
		return nil
	}
	return fmt.Errorf("%w %q (known queues: %s)", queue.ErrUnknownQueue, name, strings.Join(pipelineQueues, ", "))
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
