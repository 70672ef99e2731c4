// Package config defines the plain Config struct the core pipeline is
// built from. It performs no I/O itself — reading environment variables
// or a YAML file is the composition root's job (cmd/coreserver), kept
// out of this package so core code never reaches into the environment
// on its own.
package config

import (
	"fmt"
	"time"
)

// ValidationError reports a Config field that failed Validate. It is a
// fatal condition — the process should not start with an invalid
// configuration, unlike the recoverable per-tick error paths elsewhere
// in the core.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid %s: %s", e.Field, e.Reason)
}

// Config is the single source of truth handed to the composition root's
// wiring code. Every sub-component's own Config is embedded or derived
// from here so there is one place to validate.
type Config struct {
	// Intervals is the configured bar interval set, in minutes.
	Intervals []int

	// Enrichment.
	IcebergConfirmationThreshold int

	// Divergence lookback, in minutes.
	DivergenceMaxLookbackMinutes int
	DivergenceMinLookbackMinutes int

	// Bar aggregation.
	IndicatorPeriod    int
	CLVSmoothingPeriod int
	BarHistoryCapacity int

	// Signal engine.
	SignalPolicy        string // "acceptance" (default) or "pressure"
	PathRegimeThreshold float64
	CostRegimeThreshold float64
	StopLossPct         float64
	PathChopThreshold   float64
	EnablePartialExit   bool
	TimingIntervalMinutes int

	// Pipeline batching and queueing.
	QueueCapacity     int
	TickBatchSize     int
	BarBatchSize      int
	SignalBatchSize   int
	FlushInterval     time.Duration
	DataWindowMinutes int
	MaxSinkFailures   int

	// Threshold provider refresh cadence, when a RefreshingProvider is
	// wired in by the composition root.
	ThresholdRefreshInterval time.Duration
	ThresholdRefreshJitter   time.Duration

	// Ops.
	MetricsAddr     string
	DashboardAddr   string
	CSVLogDirectory string
}

// Default returns a Config populated with the same defaults each
// sub-package applies on its own when given a zero value, plus values
// for the fields no sub-package defaults (timing interval, refresh
// jitter, addresses, log directory) — useful for tests and for a
// composition root that wants to override only a few fields.
func Default() Config {
	return Config{
		Intervals:                    []int{1, 3, 5, 10, 15},
		IcebergConfirmationThreshold: 2,
		DivergenceMaxLookbackMinutes: 30,
		DivergenceMinLookbackMinutes: 5,
		IndicatorPeriod:              14,
		CLVSmoothingPeriod:           3,
		BarHistoryCapacity:           200,
		SignalPolicy:                 "acceptance",
		PathRegimeThreshold:          0.25,
		CostRegimeThreshold:          0.25,
		PathChopThreshold:            0.5,
		TimingIntervalMinutes:        1,
		QueueCapacity:                10000,
		TickBatchSize:                1000,
		BarBatchSize:                 100,
		SignalBatchSize:              100,
		FlushInterval:                2 * time.Second,
		DataWindowMinutes:            60,
		MaxSinkFailures:              5,
		ThresholdRefreshInterval:     time.Minute,
		ThresholdRefreshJitter:       5 * time.Second,
		MetricsAddr:                  ":9090",
		DashboardAddr:                ":8090",
		CSVLogDirectory:              "logs",
	}
}

// Validate fails fast on an unknown interval set or a negative
// threshold, per the core's "stop the process rather than run with bad
// config" rule.
func (c Config) Validate() error {
	if len(c.Intervals) == 0 {
		return &ValidationError{Field: "Intervals", Reason: "must configure at least one bar interval"}
	}
	seen := make(map[int]bool, len(c.Intervals))
	for _, m := range c.Intervals {
		if m <= 0 {
			return &ValidationError{Field: "Intervals", Reason: fmt.Sprintf("interval %dm must be positive", m)}
		}
		if seen[m] {
			return &ValidationError{Field: "Intervals", Reason: fmt.Sprintf("duplicate interval %dm", m)}
		}
		seen[m] = true
	}
	if c.IcebergConfirmationThreshold < 0 {
		return &ValidationError{Field: "IcebergConfirmationThreshold", Reason: "must be non-negative"}
	}
	if c.DivergenceMinLookbackMinutes < 0 || c.DivergenceMaxLookbackMinutes < 0 {
		return &ValidationError{Field: "DivergenceLookback", Reason: "lookback windows must be non-negative"}
	}
	if c.DivergenceMinLookbackMinutes > c.DivergenceMaxLookbackMinutes && c.DivergenceMaxLookbackMinutes > 0 {
		return &ValidationError{Field: "DivergenceLookback", Reason: "min lookback must not exceed max lookback"}
	}
	if c.IndicatorPeriod <= 0 {
		return &ValidationError{Field: "IndicatorPeriod", Reason: "must be positive"}
	}
	if c.SignalPolicy != "acceptance" && c.SignalPolicy != "pressure" {
		return &ValidationError{Field: "SignalPolicy", Reason: "must be \"acceptance\" or \"pressure\""}
	}
	if c.PathRegimeThreshold < 0 || c.CostRegimeThreshold < 0 {
		return &ValidationError{Field: "RegimeThreshold", Reason: "must be non-negative"}
	}
	if c.StopLossPct < 0 {
		return &ValidationError{Field: "StopLossPct", Reason: "must be non-negative"}
	}
	if c.QueueCapacity <= 0 {
		return &ValidationError{Field: "QueueCapacity", Reason: "must be positive"}
	}
	if c.FlushInterval <= 0 {
		return &ValidationError{Field: "FlushInterval", Reason: "must be positive"}
	}
	return nil
}
