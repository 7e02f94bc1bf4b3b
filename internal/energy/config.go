package energy

import (
	"fmt"
	"time"
)

// Config controls the energy plugin's buffer, training cadence, and
// analytics behavior.
type Config struct {
	BufferSize          int           `mapstructure:"buffer_size"`
	BaseLoadWatts       float64       `mapstructure:"base_load_watts"`
	MinTrainSamples     int           `mapstructure:"min_train_samples"`
	RetrainEvery        int           `mapstructure:"retrain_every"`
	MinAnalyticsSamples int           `mapstructure:"min_analytics_samples"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	AnomalyWindow       int           `mapstructure:"anomaly_window"`
	MaxAnomalies        int           `mapstructure:"max_anomalies"`
	ChangeWindow        time.Duration `mapstructure:"change_window"`
	BackfillSpan        time.Duration `mapstructure:"backfill_span"`
	BackfillStride      time.Duration `mapstructure:"backfill_stride"`
	Seed                uint64        `mapstructure:"seed"`
}

// DefaultConfig returns the canonical tuning.
func DefaultConfig() Config {
	return Config{
		BufferSize:          1000,
		BaseLoadWatts:       50,
		MinTrainSamples:     50,
		RetrainEvery:        50,
		MinAnalyticsSamples: 10,
		CacheTTL:            15 * time.Second,
		AnomalyWindow:       168,
		MaxAnomalies:        10,
		ChangeWindow:        5 * time.Minute,
		BackfillSpan:        72 * time.Hour,
		BackfillStride:      10 * time.Minute,
		Seed:                1,
	}
}

// Validate rejects configurations the plugin cannot run with.
func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.BaseLoadWatts <= 0 {
		return fmt.Errorf("base_load_watts must be positive, got %v", c.BaseLoadWatts)
	}
	if c.MinAnalyticsSamples <= 0 {
		return fmt.Errorf("min_analytics_samples must be positive, got %d", c.MinAnalyticsSamples)
	}
	if c.AnomalyWindow <= 0 {
		return fmt.Errorf("anomaly_window must be positive, got %d", c.AnomalyWindow)
	}
	if c.MaxAnomalies <= 0 {
		return fmt.Errorf("max_anomalies must be positive, got %d", c.MaxAnomalies)
	}
	if c.ChangeWindow <= 0 {
		return fmt.Errorf("change_window must be positive, got %s", c.ChangeWindow)
	}
	if c.MinTrainSamples <= 0 {
		return fmt.Errorf("min_train_samples must be positive, got %d", c.MinTrainSamples)
	}
	if c.RetrainEvery <= 0 {
		return fmt.Errorf("retrain_every must be positive, got %d", c.RetrainEvery)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.BackfillStride <= 0 {
		return fmt.Errorf("backfill_stride must be positive, got %s", c.BackfillStride)
	}
	if c.MinTrainSamples > c.BufferSize {
		return fmt.Errorf("min_train_samples %d exceeds buffer_size %d", c.MinTrainSamples, c.BufferSize)
	}
	return nil
}
