// Package energy provides public SDK types for the WattScope consumption
// analytics system. These types cross plugin boundaries and appear in HTTP
// payloads, so changes here are API changes.
package energy

import "time"

// PropertyKind classifies the user-controllable property of a device.
type PropertyKind string

// Known property kinds. Unknown kinds fall back to a flat midpoint draw.
const (
	PropBrightness  PropertyKind = "brightness"
	PropSpeed       PropertyKind = "speed"
	PropVolume      PropertyKind = "volume"
	PropPressure    PropertyKind = "pressure"
	PropPower       PropertyKind = "power"
	PropTemperature PropertyKind = "temperature"
	PropTemp        PropertyKind = "temp" // legacy alias for temperature
	PropOther       PropertyKind = "other"
)

// DeviceReading is one device's reported state inside an ingest payload.
// Readings are ephemeral: the full state map is supplied wholesale on each
// update and a device has no identity beyond its name within a room.
type DeviceReading struct {
	Name     string       `json:"name"`
	IsOn     bool         `json:"isOn"`
	Value    float64      `json:"value"`
	Property PropertyKind `json:"property"`
}

// DeviceStates maps room name to the devices reported in that room.
type DeviceStates map[string][]DeviceReading

// Observation is one synthesized consumption data point with its context
// features. Immutable once appended to the series, except for the optional
// Predicted/PredictionConfidence fields attached lazily on read.
type Observation struct {
	Timestamp            time.Time `json:"timestamp"`
	Consumption          float64   `json:"consumption"`        // watts
	DeviceConsumption    float64   `json:"device_consumption"` // watts
	BaseConsumption      float64   `json:"base_consumption"`   // watts
	Hour                 int       `json:"hour"`        // 0-23
	DayOfWeek            int       `json:"day_of_week"` // 0=Monday .. 6=Sunday
	Temperature          float64   `json:"temperature"` // degrees F, modeled
	Occupancy            int       `json:"occupancy"`   // 0 or 1
	TimeFactor           float64   `json:"time_factor"`
	WeatherFactor        float64   `json:"weather_factor"`
	DeviceChangeFactor   float64   `json:"device_change_factor"`
	Predicted            *float64  `json:"predicted,omitempty"`
	PredictionConfidence *float64  `json:"prediction_confidence,omitempty"`
}

// Anomaly severity levels.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Anomaly detection types, one per detection pass.
const (
	DetectTemporalPattern = "temporal_pattern"
	DetectStatistical     = "statistical"
	DetectDeviceMismatch  = "device_mismatch"
	DetectMLDetected      = "ml_detected"
	DetectDeviceChange    = "device_change"
)

// Anomaly is one flagged consumption point. Anomalies are computed per
// analytics request and never persisted; at most one anomaly exists per
// distinct observation timestamp in a merged result.
type Anomaly struct {
	ID          string    `json:"id"`
	Hour        int       `json:"hour"`
	Consumption float64   `json:"consumption"`
	Severity    string    `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence"` // 0.0-1.0, saturates at 0.95
	Type        string    `json:"type"`
}

// ModelPerformance summarizes forecast ensemble quality.
//
// MAE, RMSE and R2 are computed against a held-out slice of the series on
// each training run and reflect real model error. Precision, Recall and F1
// have no ground truth to score against in a synthetic system; they are
// illustrative placeholder figures and are flagged as such.
type ModelPerformance struct {
	Trained      bool      `json:"trained"`
	TrainedAt    time.Time `json:"trained_at,omitzero"`
	Samples      int       `json:"samples"`
	MAE          float64   `json:"mae"`
	RMSE         float64   `json:"rmse"`
	R2           float64   `json:"r2"`
	Accuracy     float64   `json:"accuracy"` // derived from R2, percent
	Precision    float64   `json:"precision"`
	Recall       float64   `json:"recall"`
	F1           float64   `json:"f1"`
	Illustrative bool      `json:"illustrative"` // true: precision/recall/F1 are not measured
}

// DaySummary is the per-day-of-week consumption summary in an analytics
// bundle.
type DaySummary struct {
	Day         string  `json:"day"` // "Mon" .. "Sun"
	Consumption float64 `json:"consumption"`
	Prediction  float64 `json:"prediction"`
	Efficiency  float64 `json:"efficiency"` // illustrative, percent
}

// HourlyPattern is the per-hour consumption summary in an analytics bundle.
type HourlyPattern struct {
	Hour               string  `json:"hour"` // "00:00" .. "23:00"
	AvgConsumption     float64 `json:"avg_consumption"`
	DeviceContribution float64 `json:"device_contribution"`
}

// AnalyticsBundle is the full analytics response computed from the series.
type AnalyticsBundle struct {
	Status       string           `json:"status"` // "ok" or "insufficient_data"
	Observations int              `json:"observations"`
	Required     int              `json:"required,omitempty"`
	WeeklyData   []DaySummary     `json:"weeklyData,omitempty"`
	AnomalyData  []Anomaly        `json:"anomalyData,omitempty"`
	Performance  ModelPerformance `json:"mlPerformance,omitzero"`
	HourlyData   []HourlyPattern  `json:"hourlyPatterns,omitempty"`
	ComputedAt   time.Time        `json:"computed_at,omitzero"`
}

// IngestResult is the response to a device-state ingest.
type IngestResult struct {
	Status             string    `json:"status"`
	CurrentConsumption float64   `json:"current_consumption"`
	DeviceConsumption  float64   `json:"device_consumption"`
	Timestamp          time.Time `json:"timestamp"`
}
