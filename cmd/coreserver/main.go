// Command coreserver is the example composition root: it wires config,
// the enrichment/aggregation/signal core, a CSV replay source and the
// reference CSV + websocket dashboard sinks into a running pipeline.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	osSignal "os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/marketcore/tickcore/internal/bar"
	"github.com/marketcore/tickcore/internal/config"
	"github.com/marketcore/tickcore/internal/divergence"
	"github.com/marketcore/tickcore/internal/enrich"
	"github.com/marketcore/tickcore/internal/metrics"
	"github.com/marketcore/tickcore/internal/model"
	"github.com/marketcore/tickcore/internal/pipeline"
	"github.com/marketcore/tickcore/internal/registry"
	"github.com/marketcore/tickcore/internal/signal"
	"github.com/marketcore/tickcore/internal/sink/csvlog"
	"github.com/marketcore/tickcore/internal/sink/wsbroadcast"
	"github.com/marketcore/tickcore/internal/source/replay"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, replayDir, err := loadConfig(*configPath)
	if err != nil {
		log.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := osSignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	enricher := enrich.New(enrich.Config{IcebergConfirmationThreshold: cfg.IcebergConfirmationThreshold}, log)

	barCfg := bar.Config{
		IndicatorPeriod:    cfg.IndicatorPeriod,
		CLVSmoothingPeriod: cfg.CLVSmoothingPeriod,
		HistoryCapacity:    cfg.BarHistoryCapacity,
		Divergence: divergence.Config{
			MaxLookbackMinutes: cfg.DivergenceMaxLookbackMinutes,
			MinLookbackMinutes: cfg.DivergenceMinLookbackMinutes,
		},
	}
	reg := registry.New(cfg.Intervals, barCfg, log)

	signalPolicy := signal.AcceptancePolicy
	if cfg.SignalPolicy == "pressure" {
		signalPolicy = signal.PressurePolicy
	}
	signalEngine := signal.New(signal.Config{
		Policy:              signalPolicy,
		PathRegimeThreshold: cfg.PathRegimeThreshold,
		CostRegimeThreshold: cfg.CostRegimeThreshold,
		StopLossPct:         cfg.StopLossPct,
		PathChopThreshold:   cfg.PathChopThreshold,
		EnablePartialExit:   cfg.EnablePartialExit,
	}, log)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	batchCfg := pipeline.BatchConfig{
		QueueCapacity:     cfg.QueueCapacity,
		TickBatchSize:     cfg.TickBatchSize,
		BarBatchSize:      cfg.BarBatchSize,
		SignalBatchSize:   cfg.SignalBatchSize,
		FlushInterval:     cfg.FlushInterval,
		DataWindowMinutes: cfg.DataWindowMinutes,
		MaxSinkFailures:   cfg.MaxSinkFailures,
	}
	pl := pipeline.New(batchCfg, enricher, reg, signalEngine, m, log)

	barCSV := csvlog.NewBarSink(cfg.CSVLogDirectory, log)
	signalCSV := csvlog.NewSignalSink(cfg.CSVLogDirectory, log)
	pl.AddBarSink(barCSV)
	pl.AddSignalSink(signalCSV)

	hub := wsbroadcast.NewHub(500, log)
	pl.AddBarSink(hub)
	pl.AddSignalSink(hub)

	src, err := openReplaySource(replayDir, log)
	if err != nil {
		log.Error("failed to open replay source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pl.Run(gctx) })

	g.Go(func() error {
		for {
			tick, ok := src.Next()
			if !ok {
				return nil
			}
			if err := pl.Submit(gctx, tick); err != nil {
				return nil
			}
		}
	})

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})}
	g.Go(func() error { return runAndShutdown(gctx, metricsSrv) })

	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler())
	dashboardSrv := &http.Server{Addr: cfg.DashboardAddr, Handler: mux}
	g.Go(func() error { return runAndShutdown(gctx, dashboardSrv) })

	log.Info("coreserver started", slog.String("metrics_addr", cfg.MetricsAddr), slog.String("dashboard_addr", cfg.DashboardAddr))

	if err := g.Wait(); err != nil {
		log.Error("coreserver exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func runAndShutdown(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// openReplaySource discovers every live_ticks_*.csv file under dir and
// derives an instrument ID from its position in the sorted file list —
// a placeholder instrument mapping good enough for a self-contained demo;
// a real deployment supplies its own stock-name-to-instrument-ID map.
func openReplaySource(dir string, log *slog.Logger) (*replay.Source, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "live_ticks_*.csv"))
	if err != nil {
		return nil, err
	}
	var files []replay.InstrumentFile
	for i, path := range matches {
		name := filepath.Base(path)
		stock := name[len("live_ticks_") : len(name)-len(".csv")]
		files = append(files, replay.InstrumentFile{
			StockName:  stock,
			Instrument: model.InstrumentID(i + 1),
			Path:       path,
		})
	}
	return replay.Open(files, replay.Config{}, log)
}
