package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"coinscanner/internal/binance"
	"coinscanner/internal/brave"
	"coinscanner/internal/coingecko"
	"coinscanner/internal/config"
	"coinscanner/internal/coordinator"
	"coinscanner/internal/enrich"
	"coinscanner/internal/fetcher"
	"coinscanner/internal/logging"
	"coinscanner/internal/market"
	"coinscanner/internal/observability"
	"coinscanner/internal/ratelimit"
	"coinscanner/internal/report"
	"coinscanner/internal/server"
)

func main() {
	flags := config.NewFlagSet(os.Args[0])
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Invalid arguments: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, closer, err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received interrupt signal, shutting down")
		cancel()
	}()

	metrics := observability.NewMetrics("coinscanner")
	coord := newCoordinator(cfg, logger, metrics)

	if cfg.ServeAddr != "" {
		err = serve(ctx, cfg.ServeAddr, coord, metrics, logger)
	} else {
		err = runOnce(ctx, coord, cfg.CSVPath)
	}

	cancel()
	closeLog(os.Stderr, closer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// closeLog releases the log file. The logger may be writing to it, so a
// failure goes straight to w.
func closeLog(w io.Writer, closer io.Closer) {
	if err := closer.Close(); err != nil {
		fmt.Fprintf(w, "Failed to close log file: %v\n", err)
	}
}

// newCoordinator wires the upstream clients described by cfg.
func newCoordinator(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *coordinator.Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := ratelimit.New(map[ratelimit.API]float64{
		ratelimit.APICoinGecko: cfg.CoinGeckoRPS,
		ratelimit.APIBinance:   cfg.BinanceRPS,
		ratelimit.APIBrave:     cfg.BraveRPS,
	}, cfg.RequestTimeout)
	clientOpts := fetcher.ClientOptions{Timeout: cfg.RequestTimeout}

	markets := coingecko.NewMarketClient(
		fetcher.NewHTTPClient(cfg.CoinGeckoBaseURL, clientOpts),
		limiter,
		cfg.CoinGeckoAPIKey,
		coingecko.MarketParams{
			VsCurrency: cfg.VsCurrency,
			PerPage:    cfg.PerPage,
			Pages:      cfg.Pages,
			KeyHeader:  cfg.CoinGeckoKeyHeader,
		},
		logger,
	)

	exchange := binance.NewClient(
		fetcher.NewHTTPClient(cfg.BinanceBaseURL, clientOpts),
		limiter,
		cfg.BinanceAPIKey,
	)

	var news enrich.NewsSource
	if cfg.NewsEnabled() {
		news = brave.NewClient(fetcher.NewHTTPClient(cfg.BraveBaseURL, clientOpts), limiter, cfg.BraveSearchAPIKey)
	} else {
		logger.Info("news enrichment disabled", "reason", fetcher.NewCredentialMissingError("brave"))
	}

	return coordinator.New(coordinator.Options{
		Market:      markets,
		Tradability: enrich.NewTradabilityChecker(exchange, cfg.QuoteAsset, cfg.MaxConcurrency, logger),
		News:        enrich.NewNewsEnricher(news, cfg.NewsCount, cfg.MaxConcurrency, logger),
		Rank: market.RankOptions{
			Limit:     cfg.TopN,
			MinVolume: cfg.MinVolumeDecimal(),
		},
		Metrics: metrics,
		Logger:  logger,
		Timeout: cfg.RunTimeout,
	})
}

func runOnce(ctx context.Context, coord *coordinator.Coordinator, csvPath string) error {
	rep, err := coord.Run(ctx)
	if err != nil {
		return err
	}

	if err := report.WriteTable(os.Stdout, rep); err != nil {
		return fmt.Errorf("writing table: %w", err)
	}

	if csvPath != "" {
		path, err := writeCSVFile(csvPath, rep)
		if err != nil {
			return err
		}
		fmt.Printf("\nCSV written to %s\n", path)
	}
	return nil
}

// writeCSVFile writes rep to target. A directory target gets a timestamped file name.
func writeCSVFile(target string, rep *market.Report) (string, error) {
	path := target
	if info, err := os.Stat(target); (err == nil && info.IsDir()) || strings.HasSuffix(target, string(os.PathSeparator)) {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return "", fmt.Errorf("creating csv directory: %w", err)
		}
		path = filepath.Join(target, report.FileName(rep.FetchedAt))
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating csv file: %w", err)
	}
	if err := report.WriteCSV(f, rep); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing csv file: %w", err)
	}
	return path, nil
}

func serve(ctx context.Context, addr string, coord *coordinator.Coordinator, metrics *observability.Metrics, logger *slog.Logger) error {
	runner := coordinator.NewRunner(coord, logger)

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(runner, metrics, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Warm the cache so the read endpoints have data before the first refresh.
	go func() {
		if _, err := runner.Trigger(ctx); err != nil {
			logger.Warn("initial run did not complete", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
