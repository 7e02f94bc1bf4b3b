// Package series maintains the in-memory consumption time series and
// derives model feature vectors from it.
package series

import (
	"math"
	"sync"

	"github.com/wattscope/wattscope/pkg/energy"
)

// NumFeatures is the width of a model feature vector.
const NumFeatures = 11

// Buffer is a bounded FIFO of observations. When full, appending evicts
// the oldest point. Safe for concurrent use.
type Buffer struct {
	mu    sync.RWMutex
	data  []energy.Observation
	cap   int
	total uint64 // appends over the buffer's lifetime
}

// NewBuffer creates a buffer holding at most capacity observations.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		data: make([]energy.Observation, 0, capacity),
		cap:  capacity,
	}
}

// Append adds an observation, evicting the oldest when at capacity.
// It returns the lifetime append count.
func (b *Buffer) Append(obs energy.Observation) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) >= b.cap {
		copy(b.data, b.data[1:])
		b.data = b.data[:len(b.data)-1]
	}
	b.data = append(b.data, obs)
	b.total++
	return b.total
}

// Len returns the number of observations currently held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Total returns the lifetime append count, which keeps growing after the
// buffer starts evicting.
func (b *Buffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Snapshot returns a copy of the buffered observations, oldest first.
func (b *Buffer) Snapshot() []energy.Observation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]energy.Observation, len(b.data))
	copy(out, b.data)
	return out
}

// Tail returns a copy of the most recent n observations, oldest first.
// If fewer are held, all are returned.
func (b *Buffer) Tail(n int) []energy.Observation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > len(b.data) {
		n = len(b.data)
	}
	out := make([]energy.Observation, n)
	copy(out, b.data[len(b.data)-n:])
	return out
}

// Last returns the most recent observation, if any.
func (b *Buffer) Last() (energy.Observation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.data) == 0 {
		return energy.Observation{}, false
	}
	return b.data[len(b.data)-1], true
}

// Features builds the model feature vector for one observation. Hour and
// day of week are additionally encoded cyclically so that hour 23 sits
// next to hour 0 in feature space.
func Features(obs energy.Observation) []float64 {
	hourAngle := 2 * math.Pi * float64(obs.Hour) / 24
	dayAngle := 2 * math.Pi * float64(obs.DayOfWeek) / 7
	return []float64{
		float64(obs.Hour),
		float64(obs.DayOfWeek),
		obs.Temperature,
		float64(obs.Occupancy),
		obs.DeviceConsumption,
		obs.TimeFactor,
		obs.WeatherFactor,
		math.Sin(hourAngle),
		math.Cos(hourAngle),
		math.Sin(dayAngle),
		math.Cos(dayAngle),
	}
}

// Matrix builds the feature matrix and target vector for a set of
// observations, for model training.
func Matrix(observations []energy.Observation) (features [][]float64, targets []float64) {
	features = make([][]float64, len(observations))
	targets = make([]float64, len(observations))
	for i, obs := range observations {
		features[i] = Features(obs)
		targets[i] = obs.Consumption
	}
	return features, targets
}
