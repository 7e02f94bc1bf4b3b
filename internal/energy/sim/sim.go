// Package sim synthesizes consumption observations from device states.
// Consumption here is modeled, not measured: base load plus device draw,
// shaped by time-of-day, weekend, weather, and device-change multipliers,
// perturbed with proportional Gaussian noise.
package sim

import (
	"math"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wattscope/wattscope/internal/energy/power"
	"github.com/wattscope/wattscope/pkg/energy"
)

const (
	// BaseLoadWatts is the always-on household draw.
	BaseLoadWatts = 50.0

	peakFactor  = 1.3
	nightFactor = 0.7

	weekendFactor = 1.15

	weatherPenalty  = 1.15
	comfortLowF     = 60.0
	comfortHighF    = 80.0
	tempMeanF       = 70.0
	tempAmplitudeF  = 15.0
	tempNoiseSigmaF = 3.0

	changeFactor = 1.25
	// ChangeWindow is how long a device-state change keeps boosting draw.
	ChangeWindow = 5 * time.Minute

	noiseFraction = 0.05
)

// Params tunes an Observer. Zero values fall back to the package
// defaults.
type Params struct {
	Seed         uint64
	BaseLoad     float64
	ChangeWindow time.Duration
}

// Observer synthesizes observations. It owns its random source, so a
// fixed seed yields a reproducible series. Safe for concurrent use: the
// shared random source is guarded by a mutex.
type Observer struct {
	baseLoad     float64
	changeWindow time.Duration
	estimator    *power.Estimator

	mu        sync.Mutex
	noise     distuv.Normal
	tempNoise distuv.Normal
}

// NewObserver creates an observer from the given tuning.
func NewObserver(p Params) *Observer {
	if p.BaseLoad <= 0 {
		p.BaseLoad = BaseLoadWatts
	}
	if p.ChangeWindow <= 0 {
		p.ChangeWindow = ChangeWindow
	}
	src := rand.NewSource(p.Seed)
	return &Observer{
		baseLoad:     p.BaseLoad,
		changeWindow: p.ChangeWindow,
		estimator:    power.NewEstimator(),
		noise:        distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		tempNoise:    distuv.Normal{Mu: 0, Sigma: tempNoiseSigmaF, Src: src},
	}
}

// TimeFactor returns the time-of-day consumption multiplier: elevated in
// the morning and evening peaks, reduced overnight.
func TimeFactor(hour int) float64 {
	switch {
	case (hour >= 6 && hour <= 9) || (hour >= 17 && hour <= 22):
		return peakFactor
	case hour <= 5 || hour == 23:
		return nightFactor
	default:
		return 1.0
	}
}

// WeekendFactor returns the weekend multiplier for a weekday.
func WeekendFactor(day time.Weekday) float64 {
	if day == time.Saturday || day == time.Sunday {
		return weekendFactor
	}
	return 1.0
}

// OutdoorTemp models outdoor temperature as a diurnal sinusoid peaking at
// midday, plus Gaussian noise.
func (o *Observer) OutdoorTemp(hour int) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outdoorTemp(hour)
}

func (o *Observer) outdoorTemp(hour int) float64 {
	return tempMeanF +
		tempAmplitudeF*math.Sin(2*math.Pi*float64(hour-6)/24) +
		o.tempNoise.Rand()
}

// WeatherFactor penalizes consumption when outdoor temperature leaves the
// comfort band (heating or cooling kicks in).
func WeatherFactor(outdoorTemp float64) float64 {
	if outdoorTemp < comfortLowF || outdoorTemp > comfortHighF {
		return weatherPenalty
	}
	return 1.0
}

// ChangeFactor returns the transient multiplier applied while a recent
// device-state change is still within the given window.
func ChangeFactor(lastChange, now time.Time, window time.Duration) float64 {
	if !lastChange.IsZero() && now.Sub(lastChange) < window {
		return changeFactor
	}
	return 1.0
}

// dayIndex maps time.Weekday to the 0=Monday..6=Sunday convention used
// throughout the series.
func dayIndex(day time.Weekday) int {
	return (int(day) + 6) % 7
}

// Observe synthesizes one observation for the given device states at the
// given instant. lastChange is the time of the most recent device-state
// change, or the zero time if none is known.
func (o *Observer) Observe(states energy.DeviceStates, now time.Time, lastChange time.Time) energy.Observation {
	deviceWatts := o.estimator.Total(states)

	hour := now.Hour()
	day := dayIndex(now.Weekday())

	timeFactor := TimeFactor(hour)
	wkFactor := WeekendFactor(now.Weekday())
	chgFactor := ChangeFactor(lastChange, now, o.changeWindow)

	o.mu.Lock()
	outdoorTemp := o.outdoorTemp(hour)
	noiseDraw := o.noise.Rand()
	o.mu.Unlock()

	weatherFactor := WeatherFactor(outdoorTemp)

	total := (o.baseLoad + deviceWatts) * timeFactor * wkFactor * weatherFactor * chgFactor
	total += noiseDraw * noiseFraction * total
	if total < o.baseLoad {
		total = o.baseLoad
	}

	occupancy := 0
	if deviceWatts > 0 || (hour >= 7 && hour <= 23) {
		occupancy = 1
	}

	return energy.Observation{
		Timestamp:          now,
		Consumption:        total,
		DeviceConsumption:  deviceWatts,
		BaseConsumption:    o.baseLoad,
		Hour:               hour,
		DayOfWeek:          day,
		Temperature:        outdoorTemp,
		Occupancy:          occupancy,
		TimeFactor:         timeFactor,
		WeatherFactor:      weatherFactor,
		DeviceChangeFactor: chgFactor,
	}
}

// Backfill synthesizes a historical series ending just before `until`,
// spanning `span` at the given stride, using empty device states. Used to
// seed the buffer so the first training pass has data to work with.
func (o *Observer) Backfill(until time.Time, span, stride time.Duration) []energy.Observation {
	if stride <= 0 || span <= 0 {
		return nil
	}
	n := int(span / stride)
	out := make([]energy.Observation, 0, n)
	for i := n; i >= 1; i-- {
		ts := until.Add(-time.Duration(i) * stride)
		out = append(out, o.Observe(energy.DeviceStates{}, ts, time.Time{}))
	}
	return out
}
