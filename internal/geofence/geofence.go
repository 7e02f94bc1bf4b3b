// Package geofence manages location-based automation zones and their
// energy-optimization bookkeeping. Zones are in-memory only; the
// "optimization" math is deliberately simple heuristics over tracked
// device usage, not real geospatial logic.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wattscope/wattscope/internal/energy"
	"github.com/wattscope/wattscope/internal/energy/power"
	"github.com/wattscope/wattscope/pkg/plugin"
	"github.com/wattscope/wattscope/pkg/roles"

	sdk "github.com/wattscope/wattscope/pkg/energy"
)

var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// Zone is one geofenced automation area.
type Zone struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	Radius        float64   `json:"radius"` // meters
	IsActive      bool      `json:"isActive"`
	Automations   int       `json:"automations"`
	TriggerCount  int       `json:"trigger_count"`
	EnergySavings float64   `json:"energy_savings"` // percent, capped
	CreatedAt     time.Time `json:"created_at"`
}

// Validation bounds for zone creation.
const (
	minRadius = 50
	maxRadius = 5000

	maxSavings = 50.0
)

// deviceUsage accumulates per-device runtime and energy from observation
// events.
type deviceUsage struct {
	totalOnHours       float64
	totalEnergy        float64 // watt-hours
	optimizationEvents int
	lastOn             bool
	lastUpdate         time.Time
}

// Module is the geofence plugin.
type Module struct {
	logger  *zap.Logger
	plugins plugin.PluginResolver

	mu           sync.Mutex
	zones        []*Zone
	usage        map[string]*deviceUsage
	successCount int
	attemptCount int
	maxZones     int
}

// New creates the geofence plugin.
func New() *Module {
	return &Module{usage: make(map[string]*deviceUsage)}
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "geofence",
		Version:      "1.0.0",
		Description:  "Location-based automation zones and optimization tracking",
		Dependencies: []string{"energy"},
		Roles:        []string{roles.RoleAutomation},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin. Two starter zones keep the dashboard
// meaningful before any user-defined zones exist.
func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.plugins = deps.Plugins
	m.maxZones = 50
	if deps.Config != nil && deps.Config.IsSet("max_zones") {
		m.maxZones = deps.Config.GetInt("max_zones")
	}

	now := time.Now()
	m.zones = []*Zone{
		{
			ID: uuid.NewString(), Name: "Home", Address: "A-101, Ashoka Apartments, New Delhi, IN",
			Lat: 37.7749, Lng: -122.4194, Radius: 200, IsActive: true, Automations: 8,
			CreatedAt: now.AddDate(0, 0, -30),
		},
		{
			ID: uuid.NewString(), Name: "Work Office", Address: "K-15, The Sinclairs Bayview, Dubai, UAE",
			Lat: 37.7849, Lng: -122.4094, Radius: 150, IsActive: true, Automations: 5,
			CreatedAt: now.AddDate(0, 0, -20),
		},
	}
	return nil
}

// Start implements plugin.Plugin.
func (m *Module) Start(context.Context) error { return nil }

// Stop implements plugin.Plugin.
func (m *Module) Stop(context.Context) error { return nil }

// Subscriptions implements plugin.EventSubscriber: every consumption
// observation carries the device states that produced it, which feed the
// per-device usage tracker.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: energy.TopicObservation, Handler: m.onObservation},
	}
}

func (m *Module) onObservation(_ context.Context, event plugin.Event) {
	payload, ok := event.Payload.(energy.ObservationEvent)
	if !ok {
		return
	}
	m.trackUsage(payload.DeviceState, event.Timestamp)
}

// trackUsage integrates on-time and energy for every reported device.
func (m *Module) trackUsage(states sdk.DeviceStates, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for room, devices := range states {
		for _, d := range devices {
			key := room + "-" + d.Name
			u, ok := m.usage[key]
			if !ok {
				u = &deviceUsage{lastUpdate: now}
				m.usage[key] = u
			}
			elapsed := now.Sub(u.lastUpdate).Hours()
			if elapsed < 0 {
				elapsed = 0
			}
			if d.IsOn {
				u.totalOnHours += elapsed
				u.totalEnergy += power.DeviceWatts(d) * elapsed
			}
			u.lastOn = d.IsOn
			u.lastUpdate = now
		}
	}
}

// Zones returns a copy of all zones.
func (m *Module) Zones() []Zone {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Zone, len(m.zones))
	for i, z := range m.zones {
		out[i] = *z
	}
	return out
}

// CreateZone validates and adds a zone.
func (m *Module) CreateZone(name, address string, lat, lng, radius float64) (Zone, error) {
	if name == "" {
		return Zone{}, errors.New("missing required field: name")
	}
	if address == "" {
		return Zone{}, errors.New("missing required field: address")
	}
	if lat < -90 || lat > 90 {
		return Zone{}, errors.New("latitude must be between -90 and 90")
	}
	if lng < -180 || lng > 180 {
		return Zone{}, errors.New("longitude must be between -180 and 180")
	}
	if radius < minRadius || radius > maxRadius {
		return Zone{}, fmt.Errorf("radius must be between %d and %d meters", minRadius, maxRadius)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.zones) >= m.maxZones {
		return Zone{}, fmt.Errorf("zone limit of %d reached", m.maxZones)
	}

	z := &Zone{
		ID:          uuid.NewString(),
		Name:        name,
		Address:     address,
		Lat:         lat,
		Lng:         lng,
		Radius:      radius,
		IsActive:    true,
		Automations: 1 + len(m.zones)%5,
		CreatedAt:   time.Now(),
	}
	m.zones = append(m.zones, z)
	m.logger.Info("zone created", zap.String("id", z.ID), zap.String("name", z.Name))
	return *z, nil
}

// DeleteZone removes a zone by ID.
func (m *Module) DeleteZone(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, z := range m.zones {
		if z.ID == id {
			m.zones = append(m.zones[:i], m.zones[i+1:]...)
			return true
		}
	}
	return false
}

// Stats summarizes zone activity and optimization outcomes.
type Stats struct {
	TotalZones    int     `json:"total_zones"`
	TotalTriggers int     `json:"total_triggers"`
	SuccessRate   float64 `json:"optimization_success_rate"` // percent
	EnergySavings float64 `json:"energy_savings"`            // percent
	Events        int     `json:"optimization_events"`
}

// Stats returns current aggregate statistics.
func (m *Module) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Module) statsLocked() Stats {
	s := Stats{}
	for _, z := range m.zones {
		if z.IsActive {
			s.TotalZones++
		}
		s.TotalTriggers += z.TriggerCount
	}

	totalEnergy := 0.0
	for _, u := range m.usage {
		totalEnergy += u.totalEnergy
		s.Events += u.optimizationEvents
	}
	if m.attemptCount > 0 {
		s.SuccessRate = float64(m.successCount) / float64(m.attemptCount) * 100
	}
	if totalEnergy > 0 {
		potential := totalEnergy * 1.2
		s.EnergySavings = (potential - totalEnergy) / potential * 100
	}
	return s
}

// HourOptimization is one hour of the modeled optimization curve.
type HourOptimization struct {
	Hour        string  `json:"hour"`
	Consumption float64 `json:"consumption"` // kWh
	Optimized   float64 `json:"optimized"`   // kWh
}

// ZoneEfficiency reports the heuristic efficiency of one zone.
type ZoneEfficiency struct {
	Name       string  `json:"name"`
	Efficiency float64 `json:"efficiency"` // percent
}

// Analytics is the geofence analytics payload.
type Analytics struct {
	EnergyOptimization []HourOptimization `json:"energy_optimization"`
	ZoneEfficiency     []ZoneEfficiency   `json:"zone_efficiency"`
	ModelAccuracy      float64            `json:"model_accuracy"`        // percent
	PredictionQuality  float64            `json:"prediction_confidence"` // percent
	SuccessRate        float64            `json:"optimization_success_rate"`
}

// Analytics builds the zone analytics view. Model figures come from the
// analytics plugin's real held-out metrics when one is available.
func (m *Module) Analytics(ctx context.Context) Analytics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Analytics{
		EnergyOptimization: make([]HourOptimization, 0, 24),
		ZoneEfficiency:     make([]ZoneEfficiency, 0, len(m.zones)),
	}

	deviceKWh := 0.0
	for _, u := range m.usage {
		if u.lastOn {
			deviceKWh += u.totalEnergy / 1000 / float64(len(m.usage))
		}
	}
	for hour := 0; hour < 24; hour++ {
		consumption := 15 + 10*sinHour(hour) + deviceKWh
		if consumption < 0 {
			consumption = 0
		}
		out.EnergyOptimization = append(out.EnergyOptimization, HourOptimization{
			Hour:        fmt.Sprintf("%02d:00", hour),
			Consumption: consumption,
			Optimized:   consumption * 0.85,
		})
	}

	for _, z := range m.zones {
		efficiency := 75.0
		if z.TriggerCount > 0 {
			efficiency = min95(75 + z.EnergySavings/10)
		}
		out.ZoneEfficiency = append(out.ZoneEfficiency, ZoneEfficiency{
			Name:       z.Name,
			Efficiency: efficiency,
		})
	}

	out.SuccessRate = m.statsLocked().SuccessRate
	out.ModelAccuracy, out.PredictionQuality = m.modelQuality(ctx)
	return out
}

// modelQuality asks the analytics-role plugin for its real performance
// figures, falling back to neutral defaults when none is trained yet.
func (m *Module) modelQuality(ctx context.Context) (accuracy, confidence float64) {
	accuracy, confidence = 75, 50
	if m.plugins == nil {
		return accuracy, confidence
	}
	for _, p := range m.plugins.ResolveByRole(roles.RoleAnalytics) {
		provider, ok := p.(roles.AnalyticsProvider)
		if !ok {
			continue
		}
		perf, err := provider.Performance(ctx)
		if err != nil || !perf.Trained {
			continue
		}
		accuracy = perf.Accuracy
		confidence = 50 + clamp01(perf.R2)*45
		return accuracy, confidence
	}
	return accuracy, confidence
}

// Improvement is one zone's outcome from an optimization run.
type Improvement struct {
	ZoneName          string  `json:"zone_name"`
	EnergyImprovement float64 `json:"energy_improvement"`
	RadiusChange      float64 `json:"radius_change"`
}

// OptimizeResult records one optimization run.
type OptimizeResult struct {
	Timestamp        time.Time     `json:"timestamp"`
	TotalImprovement float64       `json:"total_improvement"`
	ZonesOptimized   int           `json:"zones_optimized"`
	Improvements     []Improvement `json:"improvements"`
	SuccessCount     int           `json:"success_number"`
}

// Optimize runs one heuristic optimization pass: zones bank savings
// proportional to tracked device energy, and radii drift toward a
// trigger-frequency sweet spot.
func (m *Module) Optimize() OptimizeResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attemptCount++

	deviceEnergy := 0.0
	for _, u := range m.usage {
		deviceEnergy += u.totalEnergy
	}

	result := OptimizeResult{
		Timestamp:      time.Now(),
		ZonesOptimized: len(m.zones),
	}

	for _, z := range m.zones {
		var improvement, radiusChange float64
		switch {
		case deviceEnergy > 0:
			improvement = deviceEnergy * 0.001
			if improvement > 15 {
				improvement = 15
			}
			z.TriggerCount++
			for _, u := range m.usage {
				u.optimizationEvents++
			}
			if z.TriggerCount > 5 {
				radiusChange = -5
			} else if z.TriggerCount < 2 {
				radiusChange = 10
			}
		case len(m.usage) > 0:
			improvement = 1.0
		default:
			improvement = 0.5
		}

		z.EnergySavings += improvement
		if z.EnergySavings > maxSavings {
			z.EnergySavings = maxSavings
		}
		z.Radius += radiusChange
		if z.Radius < minRadius {
			z.Radius = minRadius
		}

		result.Improvements = append(result.Improvements, Improvement{
			ZoneName:          z.Name,
			EnergyImprovement: improvement,
			RadiusChange:      radiusChange,
		})
		result.TotalImprovement += improvement
	}

	if result.TotalImprovement > 2.0 {
		m.successCount++
	}
	result.SuccessCount = m.successCount
	return result
}

func sinHour(hour int) float64 {
	return math.Sin(2 * math.Pi * float64(hour) / 24)
}

func min95(v float64) float64 {
	if v > 95 {
		return 95
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
