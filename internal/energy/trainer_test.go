package energy

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wattscope/wattscope/internal/energy/forecast"
	"github.com/wattscope/wattscope/internal/energy/series"
	sdk "github.com/wattscope/wattscope/pkg/energy"
)

func seededBuffer(n int) *series.Buffer {
	b := series.NewBuffer(1000)
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * 10 * time.Minute)
		b.Append(sdk.Observation{
			Timestamp:         ts,
			Consumption:       100 + 40*math.Sin(2*math.Pi*float64(i)/30),
			DeviceConsumption: 60,
			BaseConsumption:   50,
			Hour:              ts.Hour(),
			DayOfWeek:         (int(ts.Weekday()) + 6) % 7,
			Temperature:       70,
			Occupancy:         1,
			TimeFactor:        1,
			WeatherFactor:     1,
		})
	}
	return b
}

func TestTrainer_TrainsOnRequest(t *testing.T) {
	buffer := seededBuffer(80)
	ensemble := forecast.New(zap.NewNop(), 1, 0)

	done := make(chan error, 1)
	tr := newTrainer(buffer, ensemble, zap.NewNop(), func(err error) { done <- err })
	tr.start(context.Background())
	defer tr.stop()

	tr.request()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("training failed: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("training did not complete")
	}

	if ensemble.State() != forecast.Trained {
		t.Fatalf("state = %v, want trained", ensemble.State())
	}
}

func TestTrainer_SkipsShortSeries(t *testing.T) {
	buffer := seededBuffer(10)
	ensemble := forecast.New(zap.NewNop(), 1, 0)

	called := make(chan error, 1)
	tr := newTrainer(buffer, ensemble, zap.NewNop(), func(err error) { called <- err })
	tr.start(context.Background())
	defer tr.stop()

	tr.request()
	select {
	case <-called:
		t.Fatal("training ran despite too-short series")
	case <-time.After(200 * time.Millisecond):
	}
	if ensemble.State() != forecast.Untrained {
		t.Fatalf("state = %v, want untrained", ensemble.State())
	}
}

func TestTrainer_HonorsCustomMinSamples(t *testing.T) {
	// 30 points is below the default floor but enough for an ensemble
	// configured with a lower minimum.
	buffer := seededBuffer(30)
	ensemble := forecast.New(zap.NewNop(), 1, 20)

	done := make(chan error, 1)
	tr := newTrainer(buffer, ensemble, zap.NewNop(), func(err error) { done <- err })
	tr.start(context.Background())
	defer tr.stop()

	tr.request()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("training failed: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("training did not run with a lowered minimum")
	}
	if ensemble.State() != forecast.Trained {
		t.Fatalf("state = %v, want trained", ensemble.State())
	}
}

func TestTrainer_DuplicateRequestsCollapse(t *testing.T) {
	// Requests queued before the loop drains must collapse into the
	// capacity-1 channel rather than block the caller.
	tr := newTrainer(seededBuffer(0), forecast.New(zap.NewNop(), 1, 0), zap.NewNop(), nil)
	for i := 0; i < 100; i++ {
		tr.request() // must never block
	}
}
