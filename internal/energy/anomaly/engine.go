// Package anomaly flags abnormal consumption points with four independent
// heuristic passes plus an unconditional device-change override. The
// passes are deliberately best-effort: they trade statistical rigor for
// robustness on the small, noisy windows this system works with.
package anomaly

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/wattscope/wattscope/pkg/energy"
)

const (
	// Window is how many recent observations each detection pass sees.
	Window = 168

	// recentCount bounds the temporal pass to the newest points.
	recentCount = 24

	tightThreshold   = 2.0
	looseThreshold   = 2.5
	stableStdFrac    = 0.2 // hour counts as stable when std < frac*mean
	highSeverityDev  = 0.6
	medSeverityDev   = 0.3
	globalUpperSigma = 2.8
	globalLowerSigma = 2.0
	globalHighDev    = 0.5

	mismatchBase      = 50.0
	mismatchSlope     = 0.8
	mismatchTolerance = 0.20

	forestTrees     = 100
	forestSubsample = 64
	minForestPoints = 20
	contaminationLo = 0.01
	contaminationHi = 0.2

	changeWindow     = 5 * time.Minute
	changeConfidence = 0.9

	// MaxAnomalies caps the merged output.
	MaxAnomalies = 10
)

// Params tunes an Engine. Zero values fall back to the package defaults.
type Params struct {
	Seed         uint64
	Window       int
	MaxAnomalies int
	ChangeWindow time.Duration
}

// Engine runs the detection passes. Stateless between invocations except
// for its seed counter; the outlier model is fit fresh each call.
type Engine struct {
	logger       *zap.Logger
	seed         uint64
	window       int
	maxAnomalies int
	changeWindow time.Duration
}

// NewEngine creates a detection engine from the given tuning.
func NewEngine(logger *zap.Logger, p Params) *Engine {
	if p.Window <= 0 {
		p.Window = Window
	}
	if p.MaxAnomalies <= 0 {
		p.MaxAnomalies = MaxAnomalies
	}
	if p.ChangeWindow <= 0 {
		p.ChangeWindow = changeWindow
	}
	return &Engine{
		logger:       logger,
		seed:         p.Seed,
		window:       p.Window,
		maxAnomalies: p.MaxAnomalies,
		changeWindow: p.ChangeWindow,
	}
}

// Detect runs all passes over the most recent observations and returns a
// deduplicated, confidence-ranked anomaly list bounded by the configured
// cap. lastChange is the time of the most recent device-state change.
func (e *Engine) Detect(observations []energy.Observation, lastChange, now time.Time) []energy.Anomaly {
	if len(observations) > e.window {
		observations = observations[len(observations)-e.window:]
	}
	if len(observations) == 0 {
		return nil
	}

	// First pass to claim a timestamp wins; the device-change override
	// below is the only pass allowed to evict a prior claim.
	claimed := make(map[time.Time]int) // timestamp -> index into merged
	var merged []energy.Anomaly

	add := func(a energy.Anomaly) {
		if _, taken := claimed[a.Timestamp]; taken {
			return
		}
		claimed[a.Timestamp] = len(merged)
		merged = append(merged, a)
	}

	for _, a := range e.temporalPass(observations) {
		add(a)
	}
	for _, a := range e.globalPass(observations) {
		add(a)
	}
	for _, a := range e.mismatchPass(observations) {
		add(a)
	}
	for _, a := range e.outlierPass(observations, len(merged)) {
		add(a)
	}

	// Device-change override: a change inside the window unconditionally
	// flags the newest observation, evicting any earlier claim.
	if !lastChange.IsZero() && now.Sub(lastChange) < e.changeWindow {
		latest := observations[len(observations)-1]
		a := energy.Anomaly{
			ID:          uuid.NewString(),
			Hour:        latest.Hour,
			Consumption: latest.Consumption,
			Severity:    energy.SeverityMedium,
			Timestamp:   latest.Timestamp,
			Confidence:  changeConfidence,
			Type:        energy.DetectDeviceChange,
		}
		if i, taken := claimed[a.Timestamp]; taken {
			merged[i] = a
		} else {
			claimed[a.Timestamp] = len(merged)
			merged = append(merged, a)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})
	if len(merged) > e.maxAnomalies {
		merged = merged[:e.maxAnomalies]
	}

	if len(merged) > 0 {
		e.logger.Debug("anomaly detection complete",
			zap.Int("window", len(observations)),
			zap.Int("anomalies", len(merged)),
		)
	}
	return merged
}

// severityFor grades a relative deviation ratio.
func severityFor(deviationRatio float64) string {
	switch {
	case deviationRatio > highSeverityDev:
		return energy.SeverityHigh
	case deviationRatio > medSeverityDev:
		return energy.SeverityMedium
	default:
		return energy.SeverityLow
	}
}

// confidenceFor saturates z-score-derived confidence below 1.0.
func confidenceFor(z float64) float64 {
	return math.Min(0.95, 0.5+z/4)
}

func newAnomaly(obs energy.Observation, z, deviationRatio float64, detectType string) energy.Anomaly {
	return energy.Anomaly{
		ID:          uuid.NewString(),
		Hour:        obs.Hour,
		Consumption: obs.Consumption,
		Severity:    severityFor(deviationRatio),
		Timestamp:   obs.Timestamp,
		Confidence:  confidenceFor(z),
		Type:        detectType,
	}
}

// temporalPass compares each recent point against the mean of all window
// points sharing its hour of day. Hours that are usually stable get a
// tighter threshold: small deviations there are more suspicious.
func (e *Engine) temporalPass(observations []energy.Observation) []energy.Anomaly {
	byHour := make(map[int][]float64)
	for _, obs := range observations {
		byHour[obs.Hour] = append(byHour[obs.Hour], obs.Consumption)
	}

	start := len(observations) - recentCount
	if start < 0 {
		start = 0
	}

	var out []energy.Anomaly
	for _, obs := range observations[start:] {
		vals := byHour[obs.Hour]
		if len(vals) < 3 {
			continue
		}
		mean, std := stat.MeanStdDev(vals, nil)
		if std == 0 || mean == 0 {
			continue
		}

		threshold := looseThreshold
		if std < stableStdFrac*mean {
			threshold = tightThreshold
		}

		z := math.Abs(obs.Consumption-mean) / std
		if z <= threshold {
			continue
		}
		out = append(out, newAnomaly(obs, z, math.Abs(obs.Consumption-mean)/mean, energy.DetectTemporalPattern))
	}
	return out
}

// globalPass flags points outside asymmetric statistical bounds over the
// whole window. Each point is scored against the statistics of the other
// points (leave-one-out), so a single extreme spike cannot inflate the
// spread it is judged by. Upward spikes matter more than dips, so the
// upper bound uses a looser sigma.
func (e *Engine) globalPass(observations []energy.Observation) []energy.Anomaly {
	n := len(observations)
	if n < 3 {
		return nil
	}
	sum, sumSq := 0.0, 0.0
	for _, obs := range observations {
		sum += obs.Consumption
		sumSq += obs.Consumption * obs.Consumption
	}

	var out []energy.Anomaly
	for _, obs := range observations {
		v := obs.Consumption
		rest := float64(n - 1)
		mean := (sum - v) / rest
		variance := (sumSq-v*v)/rest - mean*mean
		if variance < 0 {
			variance = 0
		}
		std := math.Sqrt(variance)
		if std == 0 || mean == 0 {
			continue
		}

		if v <= mean+globalUpperSigma*std && v >= mean-globalLowerSigma*std {
			continue
		}
		z := math.Abs(v-mean) / std
		ratio := math.Abs(v-mean) / mean
		a := newAnomaly(obs, z, ratio, energy.DetectStatistical)
		// Breaching the global bound is never a low-grade event.
		a.Severity = energy.SeverityMedium
		if ratio > globalHighDev {
			a.Severity = energy.SeverityHigh
		}
		out = append(out, a)
	}
	return out
}

// mismatchPass flags points whose measured consumption disagrees with a
// simple linear expectation from their own reported device load.
func (e *Engine) mismatchPass(observations []energy.Observation) []energy.Anomaly {
	var out []energy.Anomaly
	for _, obs := range observations {
		expected := mismatchBase + mismatchSlope*obs.DeviceConsumption
		if expected <= 0 {
			continue
		}
		ratio := math.Abs(obs.Consumption-expected) / expected
		if ratio <= mismatchTolerance {
			continue
		}
		// Map the relative mismatch onto the usual z scale.
		z := ratio / mismatchTolerance
		out = append(out, newAnomaly(obs, z, ratio, energy.DetectDeviceMismatch))
	}
	return out
}

// outlierPass fits an isolation forest fresh on the window's context
// features. Contamination adapts to how many points the cheaper passes
// already flagged, clamped to a sane band.
func (e *Engine) outlierPass(observations []energy.Observation, alreadyFlagged int) []energy.Anomaly {
	if len(observations) < minForestPoints {
		return nil
	}

	X := make([][]float64, len(observations))
	for i, obs := range observations {
		X[i] = []float64{
			float64(obs.Hour),
			float64(obs.DayOfWeek),
			obs.Temperature,
			float64(obs.Occupancy),
			obs.DeviceConsumption,
		}
	}

	contamination := float64(alreadyFlagged) / float64(len(observations))
	if contamination < contaminationLo {
		contamination = contaminationLo
	}
	if contamination > contaminationHi {
		contamination = contaminationHi
	}

	e.seed++
	forest := NewIsolationForest(forestTrees, forestSubsample, e.seed)
	forest.Fit(X)

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(X))
	for i, x := range X {
		scores[i] = scored{idx: i, score: forest.Score(x)}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	flag := int(math.Ceil(contamination * float64(len(X))))
	var out []energy.Anomaly
	for _, s := range scores[:flag] {
		// Scores hover around 0.5 for average points; only clearly
		// isolated points are worth surfacing.
		if s.score < 0.6 {
			continue
		}
		obs := observations[s.idx]
		a := energy.Anomaly{
			ID:          uuid.NewString(),
			Hour:        obs.Hour,
			Consumption: obs.Consumption,
			Severity:    severityFor(s.score - 0.5),
			Timestamp:   obs.Timestamp,
			Confidence:  math.Min(0.95, 0.5+(s.score-0.5)*1.5),
			Type:        energy.DetectMLDetected,
		}
		out = append(out, a)
	}
	return out
}
