package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/marketcore/tickcore/internal/config"
)

// fileConfig mirrors the subset of config.Config a deployment is
// expected to tune from config.yaml; everything else keeps
// config.Default()'s values. Duration fields are plain strings here
// (YAML has no native duration type) and parsed in toConfig.
type fileConfig struct {
	Intervals             []int   `yaml:"intervals"`
	SignalPolicy          string  `yaml:"signal_policy"`
	PathRegimeThreshold   float64 `yaml:"path_regime_threshold"`
	CostRegimeThreshold   float64 `yaml:"cost_regime_threshold"`
	StopLossPct           float64 `yaml:"stop_loss_pct"`
	EnablePartialExit     bool    `yaml:"enable_partial_exit"`
	TimingIntervalMinutes int     `yaml:"timing_interval_minutes"`

	QueueCapacity   int    `yaml:"queue_capacity"`
	TickBatchSize   int    `yaml:"tick_batch_size"`
	BarBatchSize    int    `yaml:"bar_batch_size"`
	FlushInterval   string `yaml:"flush_interval"`
	DataWindowMin   int    `yaml:"data_window_minutes"`

	MetricsAddr     string `yaml:"metrics_addr"`
	DashboardAddr   string `yaml:"dashboard_addr"`
	CSVLogDirectory string `yaml:"csv_log_directory"`
	ReplayDirectory string `yaml:"replay_directory"`
}

// loadConfig reads .env (optional — a local dev convenience, not a
// requirement; if it cannot be loaded a note goes to stderr and loading
// continues) then config.yaml at path, layering any set fields over
// config.Default().
func loadConfig(path string) (config.Config, string, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, continuing with config.yaml and defaults")
	}

	cfg := config.Default()
	replayDir := "testdata/replay"

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, replayDir, nil
		}
		return cfg, replayDir, fmt.Errorf("reading %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, replayDir, fmt.Errorf("parsing %s: %w", path, err)
	}

	if len(fc.Intervals) > 0 {
		cfg.Intervals = fc.Intervals
	}
	if fc.SignalPolicy != "" {
		cfg.SignalPolicy = fc.SignalPolicy
	}
	if fc.PathRegimeThreshold > 0 {
		cfg.PathRegimeThreshold = fc.PathRegimeThreshold
	}
	if fc.CostRegimeThreshold > 0 {
		cfg.CostRegimeThreshold = fc.CostRegimeThreshold
	}
	if fc.StopLossPct > 0 {
		cfg.StopLossPct = fc.StopLossPct
	}
	cfg.EnablePartialExit = fc.EnablePartialExit
	if fc.TimingIntervalMinutes > 0 {
		cfg.TimingIntervalMinutes = fc.TimingIntervalMinutes
	}
	if fc.QueueCapacity > 0 {
		cfg.QueueCapacity = fc.QueueCapacity
	}
	if fc.TickBatchSize > 0 {
		cfg.TickBatchSize = fc.TickBatchSize
	}
	if fc.BarBatchSize > 0 {
		cfg.BarBatchSize = fc.BarBatchSize
	}
	if fc.FlushInterval != "" {
		d, err := time.ParseDuration(fc.FlushInterval)
		if err != nil {
			return cfg, replayDir, fmt.Errorf("parsing flush_interval: %w", err)
		}
		cfg.FlushInterval = d
	}
	if fc.DataWindowMin > 0 {
		cfg.DataWindowMinutes = fc.DataWindowMin
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsAddr = fc.MetricsAddr
	}
	if fc.DashboardAddr != "" {
		cfg.DashboardAddr = fc.DashboardAddr
	}
	if fc.CSVLogDirectory != "" {
		cfg.CSVLogDirectory = fc.CSVLogDirectory
	}
	if fc.ReplayDirectory != "" {
		replayDir = fc.ReplayDirectory
	}

	return cfg, replayDir, nil
}
