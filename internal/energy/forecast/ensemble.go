// Package forecast implements the consumption forecast ensemble: a bagged
// regression forest, a closed-form ridge regressor, and a small MLP,
// blended with fixed weights. Model quality is measured on a chronological
// held-out slice at each training run.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"github.com/wattscope/wattscope/internal/energy/series"
	"github.com/wattscope/wattscope/pkg/energy"
)

// State is the training lifecycle state of the ensemble.
type State int

const (
	Untrained State = iota
	Trained
	TrainingFailed
)

func (s State) String() string {
	switch s {
	case Trained:
		return "trained"
	case TrainingFailed:
		return "training_failed"
	default:
		return "untrained"
	}
}

// Fixed design constants, not learned.
const (
	MinTrainSamples = 50

	weightForest = 0.5
	weightRidge  = 0.3
	weightMLP    = 0.2

	// Reduced blend when the ridge model is unavailable.
	fallbackForest = 0.7
	fallbackMLP    = 0.3

	// UntrainedConfidence is reported when prediction falls back to the
	// observed value.
	UntrainedConfidence = 0.5

	holdoutFraction = 0.2

	forestTrees = 60
	forestDepth = 8
	ridgeLambda = 1.0
	mlpEpochs   = 200
)

var mlpHidden = []int{32, 16}

// fitted is one immutable trained model set, swapped in atomically after
// each training run.
type fitted struct {
	scaler *Scaler
	forest *Forest
	ridge  *Ridge // nil when its fit failed
	mlp    *MLP   // nil when its fit failed
	perf   energy.ModelPerformance
}

// Ensemble blends three regressors over series features. Safe for
// concurrent use: training builds a complete model set aside and swaps
// it in under lock.
type Ensemble struct {
	mu         sync.RWMutex
	state      State
	model      *fitted
	logger     *zap.Logger
	seed       uint64
	minSamples int
}

// New creates an untrained ensemble. minSamples bounds how small a
// series Train accepts; non-positive values fall back to
// MinTrainSamples.
func New(logger *zap.Logger, seed uint64, minSamples int) *Ensemble {
	if minSamples <= 0 {
		minSamples = MinTrainSamples
	}
	return &Ensemble{logger: logger, seed: seed, minSamples: minSamples}
}

// MinSamples returns the smallest series Train accepts.
func (e *Ensemble) MinSamples() int {
	return e.minSamples
}

// State returns the current lifecycle state.
func (e *Ensemble) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Train fits all three regressors against a snapshot of observations.
// The oldest 80% trains, the newest 20% is held out for quality metrics.
// On failure the ensemble keeps serving its previous model, if any.
func (e *Ensemble) Train(observations []energy.Observation) error {
	if len(observations) < e.minSamples {
		return fmt.Errorf("forecast: %d samples, need at least %d", len(observations), e.minSamples)
	}

	model, err := e.fit(observations)
	if err != nil {
		e.mu.Lock()
		e.state = TrainingFailed
		e.mu.Unlock()
		e.logger.Error("ensemble training failed", zap.Error(err))
		return err
	}

	e.mu.Lock()
	e.model = model
	e.state = Trained
	e.mu.Unlock()

	e.logger.Info("ensemble trained",
		zap.Int("samples", model.perf.Samples),
		zap.Float64("mae", model.perf.MAE),
		zap.Float64("rmse", model.perf.RMSE),
		zap.Float64("r2", model.perf.R2),
	)
	return nil
}

func (e *Ensemble) fit(observations []energy.Observation) (*fitted, error) {
	X, y := series.Matrix(observations)

	// Chronological split: train on the past, score on the most recent.
	cut := len(X) - int(float64(len(X))*holdoutFraction)
	if cut <= 0 || cut >= len(X) {
		cut = len(X) - 1
	}
	trainX, trainY := X[:cut], y[:cut]
	testX, testY := X[cut:], y[cut:]

	scaler := FitScaler(trainX)
	scaledTrain := scaler.TransformAll(trainX)

	forest := NewForest(ForestParams{
		NumTrees: forestTrees,
		MaxDepth: forestDepth,
		Seed:     e.seed,
	})
	forest.Fit(trainX, trainY)

	// Sub-model failures degrade the blend rather than failing training.
	ridge := NewRidge(ridgeLambda)
	if err := ridge.Fit(trainX, trainY); err != nil {
		e.logger.Warn("ridge fit failed, continuing without it", zap.Error(err))
		ridge = nil
	}

	mlp := NewMLP(series.NumFeatures, mlpHidden, mlpEpochs, e.seed)
	if err := mlp.Fit(scaledTrain, trainY, e.seed); err != nil {
		e.logger.Warn("mlp fit failed, continuing without it", zap.Error(err))
		mlp = nil
	}

	if ridge == nil && mlp == nil && forest == nil {
		return nil, errors.New("forecast: all sub-models failed to fit")
	}

	model := &fitted{scaler: scaler, forest: forest, ridge: ridge, mlp: mlp}
	model.perf = e.score(model, testX, testY, len(observations))
	return model, nil
}

// score computes held-out error metrics for a freshly fitted model set.
func (e *Ensemble) score(model *fitted, testX [][]float64, testY []float64, samples int) energy.ModelPerformance {
	preds := make([]float64, len(testX))
	for i, x := range testX {
		preds[i] = model.blend(x)
	}

	absErr, sqErr := 0.0, 0.0
	for i := range preds {
		d := preds[i] - testY[i]
		absErr += math.Abs(d)
		sqErr += d * d
	}
	n := float64(len(preds))
	mae := absErr / n
	rmse := math.Sqrt(sqErr / n)

	meanY := stat.Mean(testY, nil)
	ssTot := 0.0
	for _, v := range testY {
		d := v - meanY
		ssTot += d * d
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - sqErr/ssTot
	}

	accuracy := math.Max(0, math.Min(100, r2*100))

	// Precision/recall/F1 have no anomaly ground truth in a synthetic
	// system; report plausible illustrative figures, flagged as such.
	rng := rand.New(rand.NewSource(e.seed + uint64(samples)))
	precision := 0.82 + rng.Float64()*0.12
	recall := 0.78 + rng.Float64()*0.15
	f1 := 2 * precision * recall / (precision + recall)

	return energy.ModelPerformance{
		Trained:      true,
		TrainedAt:    time.Now(),
		Samples:      samples,
		MAE:          mae,
		RMSE:         rmse,
		R2:           r2,
		Accuracy:     accuracy,
		Precision:    precision,
		Recall:       recall,
		F1:           f1,
		Illustrative: true,
	}
}

// blend combines the available sub-models with fixed weights.
func (f *fitted) blend(x []float64) float64 {
	forestPred := f.forest.Predict(x)

	var mlpPred float64
	mlpOK := false
	if f.mlp != nil {
		if v, err := f.mlp.Predict(f.scaler.Transform(x)); err == nil {
			mlpPred, mlpOK = v, true
		}
	}

	if f.ridge != nil {
		if ridgePred, err := f.ridge.Predict(x); err == nil {
			if mlpOK {
				return weightForest*forestPred + weightRidge*ridgePred + weightMLP*mlpPred
			}
			// No MLP: fold its weight into the forest.
			return (weightForest+weightMLP)*forestPred + weightRidge*ridgePred
		}
	}

	if mlpOK {
		return fallbackForest*forestPred + fallbackMLP*mlpPred
	}
	return forestPred
}

// Predict forecasts consumption for one observation. An ensemble that has
// never trained successfully echoes the observed consumption at a fixed
// low confidence.
func (e *Ensemble) Predict(obs energy.Observation) (value, confidence float64) {
	e.mu.RLock()
	model := e.model
	e.mu.RUnlock()

	if model == nil {
		return obs.Consumption, UntrainedConfidence
	}

	pred := model.blend(series.Features(obs))
	if pred < obs.BaseConsumption {
		pred = obs.BaseConsumption
	}

	conf := confidenceFor(model.perf.R2)
	return pred, conf
}

// Performance returns the metrics from the most recent successful train.
func (e *Ensemble) Performance() energy.ModelPerformance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.model == nil {
		return energy.ModelPerformance{Trained: false, Illustrative: true}
	}
	return e.model.perf
}

// confidenceFor maps held-out R² to a 0.5..0.95 prediction confidence.
func confidenceFor(r2 float64) float64 {
	conf := 0.5 + math.Max(0, r2)*0.45
	return math.Min(conf, 0.95)
}
