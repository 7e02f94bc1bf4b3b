// Package energy implements the consumption analytics plugin: it turns
// device-state snapshots into a synthetic consumption series, forecasts
// near-term usage with a regression ensemble, and surfaces anomalous
// points through a multi-pass detection engine.
package energy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wattscope/wattscope/internal/energy/anomaly"
	"github.com/wattscope/wattscope/internal/energy/forecast"
	"github.com/wattscope/wattscope/internal/energy/series"
	"github.com/wattscope/wattscope/internal/energy/sim"
	"github.com/wattscope/wattscope/pkg/plugin"
	"github.com/wattscope/wattscope/pkg/roles"

	sdk "github.com/wattscope/wattscope/pkg/energy"
)

// Interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
	_ roles.AnalyticsProvider = (*Module)(nil)
)

// Module is the energy analytics plugin.
type Module struct {
	cfg      Config
	logger   *zap.Logger
	bus      plugin.EventBus
	buffer   *series.Buffer
	observer *sim.Observer
	ensemble *forecast.Ensemble
	engine   *anomaly.Engine
	trainer  *trainer
	cache    *analyticsCache

	mu              sync.Mutex
	lastChange      time.Time
	lastFingerprint string
	started         bool
}

// New creates the energy plugin.
func New() *Module {
	return &Module{}
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "energy",
		Version:     "1.2.0",
		Description: "Synthetic consumption series, forecast ensemble, anomaly detection",
		Required:    true,
		Roles:       []string{roles.RoleAnalytics},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin.
func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("energy config: %w", err)
		}
	}
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.buffer = series.NewBuffer(m.cfg.BufferSize)
	m.observer = sim.NewObserver(sim.Params{
		Seed:         m.cfg.Seed,
		BaseLoad:     m.cfg.BaseLoadWatts,
		ChangeWindow: m.cfg.ChangeWindow,
	})
	m.ensemble = forecast.New(m.logger.Named("forecast"), m.cfg.Seed, m.cfg.MinTrainSamples)
	m.engine = anomaly.NewEngine(m.logger.Named("anomaly"), anomaly.Params{
		Seed:         m.cfg.Seed,
		Window:       m.cfg.AnomalyWindow,
		MaxAnomalies: m.cfg.MaxAnomalies,
		ChangeWindow: m.cfg.ChangeWindow,
	})
	m.cache = newAnalyticsCache(m.cfg.CacheTTL)
	m.trainer = newTrainer(m.buffer, m.ensemble, m.logger.Named("trainer"), m.trainDone)
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	return m.cfg.Validate()
}

// Start seeds the series with a synthetic backfill so the first training
// pass has history to work with, then kicks off training in the
// background. Implements plugin.Plugin.
func (m *Module) Start(ctx context.Context) error {
	for _, obs := range m.observer.Backfill(time.Now(), m.cfg.BackfillSpan, m.cfg.BackfillStride) {
		m.buffer.Append(obs)
	}
	m.logger.Info("seeded consumption series",
		zap.Int("observations", m.buffer.Len()),
		zap.Duration("span", m.cfg.BackfillSpan),
	)

	m.trainer.start(ctx)
	m.trainer.request()

	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

// Stop implements plugin.Plugin. In-flight training is allowed to finish.
func (m *Module) Stop(context.Context) error {
	m.trainer.stop()
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return errors.New("energy plugin not started")
	}
	return nil
}

func (m *Module) trainDone(err error) {
	if err != nil || m.bus == nil {
		return
	}
	m.bus.PublishAsync(context.Background(), plugin.Event{
		Topic:     TopicTrained,
		Source:    "energy",
		Timestamp: time.Now(),
		Payload:   TrainedEvent{Performance: m.ensemble.Performance()},
	})
}

// fingerprint canonically encodes device states for change detection.
// encoding/json sorts map keys, so equal states yield equal strings.
func fingerprint(states sdk.DeviceStates) string {
	b, err := json.Marshal(states)
	if err != nil {
		return ""
	}
	return string(b)
}

// Ingest synthesizes and appends an observation for the given device
// states. It invalidates the analytics cache and triggers retraining on
// the configured cadence.
func (m *Module) Ingest(ctx context.Context, states sdk.DeviceStates, now time.Time) sdk.IngestResult {
	m.mu.Lock()
	fp := fingerprint(states)
	if fp != m.lastFingerprint {
		m.lastFingerprint = fp
		m.lastChange = now
	}
	lastChange := m.lastChange
	m.mu.Unlock()

	obs := m.observer.Observe(states, now, lastChange)
	total := m.buffer.Append(obs)
	m.cache.invalidate()

	observationsTotal.Inc()
	currentConsumption.Set(obs.Consumption)

	if m.bus != nil {
		m.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicObservation,
			Source:    "energy",
			Timestamp: now,
			Payload:   ObservationEvent{Observation: obs, DeviceState: states},
		})
	}

	if total%uint64(m.cfg.RetrainEvery) == 0 {
		m.trainer.request()
	}

	return sdk.IngestResult{
		Status:             "ok",
		CurrentConsumption: obs.Consumption,
		DeviceConsumption:  obs.DeviceConsumption,
		Timestamp:          obs.Timestamp,
	}
}

// Observations returns the most recent n observations with predictions
// attached lazily from the current model.
func (m *Module) Observations(n int) []sdk.Observation {
	out := m.buffer.Tail(n)
	for i := range out {
		pred, conf := m.ensemble.Predict(out[i])
		out[i].Predicted = &pred
		out[i].PredictionConfidence = &conf
	}
	return out
}

// Analytics returns the cached analytics bundle, recomputing when stale.
func (m *Module) Analytics(ctx context.Context) sdk.AnalyticsBundle {
	bundle, hit := m.cache.get(func() sdk.AnalyticsBundle { return m.computeAnalytics(ctx) })
	if hit {
		cacheHits.WithLabelValues("hit").Inc()
	} else {
		cacheHits.WithLabelValues("miss").Inc()
	}
	return bundle
}

var dayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func (m *Module) computeAnalytics(ctx context.Context) sdk.AnalyticsBundle {
	observations := m.buffer.Snapshot()
	if len(observations) < m.cfg.MinAnalyticsSamples {
		return sdk.AnalyticsBundle{
			Status:       "insufficient_data",
			Observations: len(observations),
			Required:     m.cfg.MinAnalyticsSamples,
			ComputedAt:   time.Now(),
		}
	}

	m.mu.Lock()
	lastChange := m.lastChange
	m.mu.Unlock()

	window := observations
	if len(window) > m.cfg.AnomalyWindow {
		window = window[len(window)-m.cfg.AnomalyWindow:]
	}
	anomalies := m.engine.Detect(window, lastChange, time.Now())
	for _, a := range anomalies {
		anomaliesDetected.WithLabelValues(a.Type).Inc()
	}
	if len(anomalies) > m.cfg.MaxAnomalies {
		anomalies = anomalies[:m.cfg.MaxAnomalies]
	}
	if len(anomalies) > 0 && m.bus != nil {
		m.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicAnomalies,
			Source:    "energy",
			Timestamp: time.Now(),
			Payload:   AnomaliesEvent{Anomalies: anomalies},
		})
	}

	perf := m.ensemble.Performance()

	return sdk.AnalyticsBundle{
		Status:       "ok",
		Observations: len(observations),
		WeeklyData:   m.weeklySummary(observations, perf),
		AnomalyData:  anomalies,
		Performance:  perf,
		HourlyData:   m.hourlyPatterns(observations),
		ComputedAt:   time.Now(),
	}
}

// weeklySummary averages consumption and model predictions per day of
// week. Efficiency is an illustrative figure derived from model quality,
// not a measured quantity.
func (m *Module) weeklySummary(observations []sdk.Observation, perf sdk.ModelPerformance) []sdk.DaySummary {
	sums := [7]float64{}
	predSums := [7]float64{}
	counts := [7]int{}
	for _, obs := range observations {
		d := obs.DayOfWeek
		if d < 0 || d > 6 {
			continue
		}
		pred, _ := m.ensemble.Predict(obs)
		sums[d] += obs.Consumption
		predSums[d] += pred
		counts[d]++
	}

	r2 := perf.R2
	if r2 < 0 {
		r2 = 0
	}
	efficiency := 85 + r2*10

	out := make([]sdk.DaySummary, 0, 7)
	for d := 0; d < 7; d++ {
		if counts[d] == 0 {
			continue
		}
		n := float64(counts[d])
		out = append(out, sdk.DaySummary{
			Day:         dayNames[d],
			Consumption: sums[d] / n,
			Prediction:  predSums[d] / n,
			Efficiency:  efficiency,
		})
	}
	return out
}

func (m *Module) hourlyPatterns(observations []sdk.Observation) []sdk.HourlyPattern {
	sums := [24]float64{}
	deviceSums := [24]float64{}
	counts := [24]int{}
	for _, obs := range observations {
		h := obs.Hour
		if h < 0 || h > 23 {
			continue
		}
		sums[h] += obs.Consumption
		deviceSums[h] += obs.DeviceConsumption
		counts[h]++
	}

	out := make([]sdk.HourlyPattern, 0, 24)
	for h := 0; h < 24; h++ {
		if counts[h] == 0 {
			continue
		}
		n := float64(counts[h])
		out = append(out, sdk.HourlyPattern{
			Hour:               fmt.Sprintf("%02d:00", h),
			AvgConsumption:     sums[h] / n,
			DeviceContribution: deviceSums[h] / n,
		})
	}
	return out
}

// Anomalies implements roles.AnalyticsProvider.
func (m *Module) Anomalies(ctx context.Context) ([]sdk.Anomaly, error) {
	bundle := m.Analytics(ctx)
	if bundle.Status != "ok" {
		return nil, fmt.Errorf("analytics unavailable: %s", bundle.Status)
	}
	return bundle.AnomalyData, nil
}

// Performance implements roles.AnalyticsProvider.
func (m *Module) Performance(context.Context) (sdk.ModelPerformance, error) {
	return m.ensemble.Performance(), nil
}
