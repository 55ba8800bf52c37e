package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/masahif/adtrail/internal/browser"
	"github.com/masahif/adtrail/internal/logging"
	"github.com/masahif/adtrail/internal/metrics"
	"github.com/masahif/adtrail/internal/pipeline"
	"github.com/masahif/adtrail/internal/scraper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the listing, storage and detail workers",
	Long: `Start workers for every pipeline queue and process jobs until interrupted.

With --drain the command exits once no queue has queued or processing jobs,
which suits scheduled runs.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.Bool("drain", false, "Exit once every queue is empty")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	f.Bool("headless", true, "Run Chrome without a window")
	f.String("chrome-path", "", "Chrome binary (found on PATH when empty)")
	f.String("proxy", "", "Proxy server for Chrome")
	f.Duration("request-delay", time.Second, "Minimum gap between page loads on one host")

	bind(serveCmd, "metrics_addr", "metrics-addr")
	bind(serveCmd, "browser.headless", "headless")
	bind(serveCmd, "browser.exec_path", "chrome-path")
	bind(serveCmd, "browser.proxy", "proxy")
	bind(serveCmd, "request_delay", "request-delay")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCloser, err := logging.SetDefault(cfg.LoggingConfig())
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()
	logger := logging.Component("serve")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, err := openBroker(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close() }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	chrome := browser.NewChrome(cfg.BrowserOptions())
	defer func() { _ = chrome.Close() }()

	m := metrics.New()
	sc := cfg.ScraperConfig()
	sc.Metrics = m

	orch, err := newOrchestrator(cfg, broker, pipeline.Deps{
		Listings: scraper.NewListingCrawler(chrome, sc),
		Details:  scraper.NewDetailScraper(chrome, sc),
		Store:    store,
	}, m)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, m)
		defer shutdown()
		logger.Info("Serving metrics", "addr", cfg.MetricsAddr, "path", "/metrics")
	}

	drain, _ := cmd.Flags().GetBool("drain")
	logger.Info("Starting pipeline",
		"version", version,
		"queues", orch.Queues(),
		"database", cfg.DatabasePath,
		"store", cfg.Store,
		"drain", drain,
	)

	if drain {
		err = orch.Drain(ctx)
	} else {
		err = orch.Run(ctx)
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("Interrupted, unfinished jobs resume on next start")
		return nil
	}
	return err
}

// serveMetrics starts the /metrics listener and returns its shutdown func.
func serveMetrics(addr string, m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
