package energy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wattscope/wattscope/internal/config"
	"github.com/wattscope/wattscope/pkg/plugin"

	sdk "github.com/wattscope/wattscope/pkg/energy"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	m := New()
	deps := plugin.Dependencies{Logger: zap.NewNop()}
	if err := m.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m
}

func TestInit_ConfigOverridesApply(t *testing.T) {
	v := viper.New()
	v.Set("base_load_watts", 80.0)
	v.Set("change_window", "30m")
	v.Set("max_anomalies", 3)

	m := New()
	deps := plugin.Dependencies{Logger: zap.NewNop(), Config: config.New(v)}
	if err := m.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if m.cfg.BaseLoadWatts != 80 || m.cfg.ChangeWindow != 30*time.Minute || m.cfg.MaxAnomalies != 3 {
		t.Fatalf("overrides not unmarshaled: %+v", m.cfg)
	}

	now := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	m.Ingest(context.Background(), sdk.DeviceStates{}, now)
	m.Ingest(context.Background(), sdk.DeviceStates{}, now.Add(20*time.Minute))

	observations := m.buffer.Snapshot()
	if observations[0].BaseConsumption != 80 {
		t.Errorf("BaseConsumption = %v, want overridden 80", observations[0].BaseConsumption)
	}
	if observations[0].Consumption < 80 {
		t.Errorf("consumption %v below overridden base load", observations[0].Consumption)
	}
	// 20 minutes after the last state change: outside the default window
	// but inside the configured 30 minute one.
	if observations[1].DeviceChangeFactor != 1.25 {
		t.Errorf("DeviceChangeFactor = %v, want 1.25 under the widened window", observations[1].DeviceChangeFactor)
	}
}

func TestIngest_MainLightScenario(t *testing.T) {
	m := newTestModule(t)
	states := sdk.DeviceStates{
		"livingroom": {{Name: "Main Light", IsOn: true, Value: 100, Property: sdk.PropBrightness}},
	}

	result := m.Ingest(context.Background(), states, time.Now())
	if result.DeviceConsumption != 51.0 {
		t.Fatalf("DeviceConsumption = %v, want exactly 51.0", result.DeviceConsumption)
	}
	if result.Status != "ok" {
		t.Errorf("Status = %q", result.Status)
	}
	if m.buffer.Len() != 1 {
		t.Errorf("buffer length = %d, want 1", m.buffer.Len())
	}
}

func TestIngest_Concurrent(t *testing.T) {
	// Every structure on the ingest path is shared across requests; this
	// keeps the race detector honest about it.
	m := newTestModule(t)
	states := sdk.DeviceStates{
		"livingroom": {{Name: "TV", IsOn: true, Value: 100, Property: sdk.PropVolume}},
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				result := m.Ingest(context.Background(), states, time.Now())
				if result.Status != "ok" {
					t.Errorf("Status = %q", result.Status)
					return
				}
			}
		}()
	}
	wg.Wait()

	if m.buffer.Len() != 400 {
		t.Fatalf("buffer length = %d, want 400", m.buffer.Len())
	}
}

func TestAnalytics_InsufficientData(t *testing.T) {
	m := newTestModule(t)
	for i := 0; i < 5; i++ {
		m.Ingest(context.Background(), sdk.DeviceStates{}, time.Now())
	}

	bundle := m.Analytics(context.Background())
	if bundle.Status != "insufficient_data" {
		t.Fatalf("Status = %q, want insufficient_data", bundle.Status)
	}
	if bundle.Observations != 5 || bundle.Required != 10 {
		t.Errorf("Observations/Required = %d/%d, want 5/10", bundle.Observations, bundle.Required)
	}
	if bundle.WeeklyData != nil || bundle.AnomalyData != nil {
		t.Error("insufficient-data bundle should not carry computed sections")
	}
}

func TestAnalytics_CacheSemantics(t *testing.T) {
	m := newTestModule(t)
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		m.Ingest(context.Background(), sdk.DeviceStates{}, now.Add(time.Duration(i)*10*time.Minute))
	}

	first := m.Analytics(context.Background())
	second := m.Analytics(context.Background())
	if !first.ComputedAt.Equal(second.ComputedAt) {
		t.Fatal("second read within TTL recomputed instead of serving the cache")
	}

	// An ingest must invalidate, so the next read recomputes.
	m.Ingest(context.Background(), sdk.DeviceStates{}, now.Add(4*time.Hour))
	third := m.Analytics(context.Background())
	if third.ComputedAt.Equal(first.ComputedAt) {
		t.Fatal("read after ingest served a stale cached bundle")
	}
	if third.Observations != 21 {
		t.Errorf("Observations = %d, want 21", third.Observations)
	}
}

func TestAnalytics_BundleSections(t *testing.T) {
	m := newTestModule(t)
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 48; i++ {
		m.Ingest(context.Background(), sdk.DeviceStates{}, start.Add(time.Duration(i)*time.Hour))
	}

	bundle := m.Analytics(context.Background())
	if bundle.Status != "ok" {
		t.Fatalf("Status = %q", bundle.Status)
	}
	if len(bundle.WeeklyData) == 0 {
		t.Error("missing weekly summary")
	}
	if len(bundle.HourlyData) == 0 {
		t.Error("missing hourly patterns")
	}
	if bundle.Performance.Trained {
		t.Error("performance claims trained before any training ran")
	}
	for _, h := range bundle.HourlyData {
		if len(h.Hour) != 5 || !strings.HasSuffix(h.Hour, ":00") {
			t.Errorf("hour label %q not in HH:00 form", h.Hour)
		}
	}
}

func TestIngest_ChangeDetection(t *testing.T) {
	m := newTestModule(t)
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	on := sdk.DeviceStates{"kitchen": {{Name: "Fan", IsOn: true, Value: 50, Property: sdk.PropSpeed}}}
	m.Ingest(context.Background(), on, now)

	m.mu.Lock()
	firstChange := m.lastChange
	m.mu.Unlock()
	if !firstChange.Equal(now) {
		t.Fatalf("lastChange = %v, want %v", firstChange, now)
	}

	// Identical state: no new change recorded.
	m.Ingest(context.Background(), on, now.Add(10*time.Minute))
	m.mu.Lock()
	unchanged := m.lastChange
	m.mu.Unlock()
	if !unchanged.Equal(firstChange) {
		t.Fatal("identical device state advanced lastChange")
	}

	// Different state: change recorded.
	off := sdk.DeviceStates{"kitchen": {{Name: "Fan", IsOn: false, Value: 50, Property: sdk.PropSpeed}}}
	m.Ingest(context.Background(), off, now.Add(20*time.Minute))
	m.mu.Lock()
	changed := m.lastChange
	m.mu.Unlock()
	if !changed.Equal(now.Add(20 * time.Minute)) {
		t.Fatal("changed device state did not advance lastChange")
	}
}

func TestObservations_LazyPredictions(t *testing.T) {
	m := newTestModule(t)
	for i := 0; i < 5; i++ {
		m.Ingest(context.Background(), sdk.DeviceStates{}, time.Now())
	}

	out := m.Observations(3)
	if len(out) != 3 {
		t.Fatalf("got %d observations, want 3", len(out))
	}
	for _, obs := range out {
		if obs.Predicted == nil || obs.PredictionConfidence == nil {
			t.Fatal("prediction fields not attached")
		}
		// Untrained ensemble echoes the observation at confidence 0.5.
		if *obs.Predicted != obs.Consumption || *obs.PredictionConfidence != 0.5 {
			t.Errorf("untrained prediction = (%v, %v), want (%v, 0.5)",
				*obs.Predicted, *obs.PredictionConfidence, obs.Consumption)
		}
	}
}

func TestHandleIngest_ToleratesSparsePayload(t *testing.T) {
	m := newTestModule(t)

	body := `{"deviceStates":{"bedroom":[{"name":"TV"},{"name":"Main Light","isOn":true,"value":100,"property":"brightness"}]}}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	m.handleIngest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result sdk.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The TV entry has no isOn, so only the light contributes.
	if result.DeviceConsumption != 51.0 {
		t.Errorf("DeviceConsumption = %v, want 51.0", result.DeviceConsumption)
	}
}

func TestHandleIngest_RejectsNonJSON(t *testing.T) {
	m := newTestModule(t)
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	m.handleIngest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAnalytics_InsufficientDataStillOK(t *testing.T) {
	m := newTestModule(t)
	req := httptest.NewRequest(http.MethodGet, "/analytics", nil)
	rec := httptest.NewRecorder()
	m.handleAnalytics(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var bundle sdk.AnalyticsBundle
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bundle.Status != "insufficient_data" {
		t.Fatalf("Status = %q, want insufficient_data", bundle.Status)
	}
}

func TestHandleObservations_BadLimit(t *testing.T) {
	m := newTestModule(t)
	req := httptest.NewRequest(http.MethodGet, "/observations?limit=-3", nil)
	rec := httptest.NewRecorder()
	m.handleObservations(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := DefaultConfig()
	bad.BufferSize = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero buffer size accepted")
	}

	bad = DefaultConfig()
	bad.MinTrainSamples = 5000
	if err := bad.Validate(); err == nil {
		t.Error("min_train_samples above buffer size accepted")
	}
}
