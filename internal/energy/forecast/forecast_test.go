package forecast

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wattscope/wattscope/internal/energy/series"
	"github.com/wattscope/wattscope/pkg/energy"
)

// syntheticSeries builds a learnable series: consumption is a smooth
// function of hour plus a device term.
func syntheticSeries(n int) []energy.Observation {
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	out := make([]energy.Observation, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * 10 * time.Minute)
		hour := ts.Hour()
		device := 100 + 50*math.Sin(2*math.Pi*float64(i)/40)
		out[i] = energy.Observation{
			Timestamp:         ts,
			Consumption:       50 + device + 30*math.Sin(2*math.Pi*float64(hour)/24),
			DeviceConsumption: device,
			BaseConsumption:   50,
			Hour:              hour,
			DayOfWeek:         (int(ts.Weekday()) + 6) % 7,
			Temperature:       70,
			Occupancy:         1,
			TimeFactor:        1.0,
			WeatherFactor:     1.0,
		}
	}
	return out
}

func TestScaler_ZeroMeanUnitVariance(t *testing.T) {
	X := [][]float64{{1, 10}, {2, 20}, {3, 30}, {4, 40}}
	s := FitScaler(X)
	scaled := s.TransformAll(X)

	for col := 0; col < 2; col++ {
		sum, sumSq := 0.0, 0.0
		for _, row := range scaled {
			sum += row[col]
			sumSq += row[col] * row[col]
		}
		mean := sum / 4
		if math.Abs(mean) > 1e-9 {
			t.Errorf("col %d mean = %v, want 0", col, mean)
		}
		if v := sumSq/4 - mean*mean; math.Abs(v-1) > 1e-9 {
			t.Errorf("col %d variance = %v, want 1", col, v)
		}
	}
}

func TestScaler_ConstantColumnPassesThrough(t *testing.T) {
	X := [][]float64{{5, 1}, {5, 2}, {5, 3}}
	s := FitScaler(X)
	got := s.Transform([]float64{5, 2})
	if got[0] != 0 {
		t.Errorf("constant column scaled to %v, want 0", got[0])
	}
}

func TestForest_LearnsStepFunction(t *testing.T) {
	// y = 10 for x < 0.5, y = 100 otherwise: trivially splittable.
	var X [][]float64
	var y []float64
	for i := 0; i < 100; i++ {
		v := float64(i) / 100
		X = append(X, []float64{v})
		if v < 0.5 {
			y = append(y, 10)
		} else {
			y = append(y, 100)
		}
	}
	f := NewForest(ForestParams{NumTrees: 20, MaxDepth: 4, Seed: 1})
	f.Fit(X, y)

	if got := f.Predict([]float64{0.2}); math.Abs(got-10) > 15 {
		t.Errorf("Predict(0.2) = %v, want near 10", got)
	}
	if got := f.Predict([]float64{0.9}); math.Abs(got-100) > 15 {
		t.Errorf("Predict(0.9) = %v, want near 100", got)
	}
}

func TestRidge_RecoversLinearCoefficients(t *testing.T) {
	// y = 3x1 + 2x2 + 5
	var X [][]float64
	var y []float64
	for i := 0; i < 50; i++ {
		x1, x2 := float64(i), float64(i%7)
		X = append(X, []float64{x1, x2})
		y = append(y, 3*x1+2*x2+5)
	}
	r := NewRidge(1.0)
	if err := r.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	got, err := r.Predict([]float64{10, 3})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	want := 3.0*10 + 2*3 + 5
	if math.Abs(got-want) > 1.0 {
		t.Errorf("Predict = %v, want near %v", got, want)
	}
}

func TestRidge_PredictBeforeFit(t *testing.T) {
	r := NewRidge(1.0)
	if _, err := r.Predict([]float64{1}); err == nil {
		t.Fatal("expected error from unfitted ridge")
	}
}

func TestMLP_LearnsLinearTarget(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 80; i++ {
		v := float64(i)/40 - 1 // -1..1
		X = append(X, []float64{v})
		y = append(y, 2*v)
	}
	m := NewMLP(1, []int{16}, 300, 1)
	if err := m.Fit(X, y, 1); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	got, err := m.Predict([]float64{0.5})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if math.Abs(got-1.0) > 0.5 {
		t.Errorf("Predict(0.5) = %v, want near 1.0", got)
	}
}

func TestEnsemble_UntrainedFallback(t *testing.T) {
	e := New(zap.NewNop(), 1, 0)
	obs := energy.Observation{Consumption: 321.5, BaseConsumption: 50}

	pred, conf := e.Predict(obs)
	if pred != 321.5 {
		t.Errorf("pred = %v, want observed 321.5", pred)
	}
	if conf != 0.5 {
		t.Errorf("confidence = %v, want exactly 0.5", conf)
	}
	if e.State() != Untrained {
		t.Errorf("state = %v, want untrained", e.State())
	}
}

func TestEnsemble_RejectsTooFewSamples(t *testing.T) {
	e := New(zap.NewNop(), 1, 0)
	if err := e.Train(syntheticSeries(10)); err == nil {
		t.Fatal("expected error below the minimum sample count")
	}
}

func TestEnsemble_TrainAndPredict(t *testing.T) {
	e := New(zap.NewNop(), 1, 0)
	data := syntheticSeries(300)
	if err := e.Train(data); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if e.State() != Trained {
		t.Fatalf("state = %v, want trained", e.State())
	}

	perf := e.Performance()
	if !perf.Trained {
		t.Fatal("performance not marked trained")
	}
	if perf.Samples != 300 {
		t.Errorf("Samples = %d, want 300", perf.Samples)
	}
	if perf.MAE <= 0 {
		t.Errorf("MAE = %v, want > 0", perf.MAE)
	}
	if !perf.Illustrative {
		t.Error("precision/recall must stay flagged illustrative")
	}

	// The series is smooth, so the blend should beat a wild guess.
	obs := data[len(data)-1]
	pred, conf := e.Predict(obs)
	if math.Abs(pred-obs.Consumption) > 100 {
		t.Errorf("pred %v far from observed %v", pred, obs.Consumption)
	}
	if conf < 0.5 || conf > 0.95 {
		t.Errorf("confidence %v outside [0.5, 0.95]", conf)
	}
	if pred < obs.BaseConsumption {
		t.Errorf("pred %v below base load", pred)
	}
}

func TestEnsemble_FeatureWidthMatchesSeries(t *testing.T) {
	if got := len(series.Features(energy.Observation{})); got != series.NumFeatures {
		t.Fatalf("feature width %d != %d", got, series.NumFeatures)
	}
}
