// Package power maps device states to estimated power draw in watts.
package power

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/wattscope/wattscope/pkg/energy"
)

// Profile describes the draw range of a known device type.
type Profile struct {
	BaseWatts float64
	MaxWatts  float64
}

// profiles holds the draw ranges for known device names.
var profiles = map[string]Profile{
	"Main Light":   {BaseWatts: 15, MaxWatts: 60},
	"Fan":          {BaseWatts: 25, MaxWatts: 75},
	"AC":           {BaseWatts: 800, MaxWatts: 1500},
	"TV":           {BaseWatts: 120, MaxWatts: 200},
	"Microwave":    {BaseWatts: 800, MaxWatts: 1200},
	"Refrigerator": {BaseWatts: 150, MaxWatts: 300},
	"Shower":       {BaseWatts: 50, MaxWatts: 100},
	"Water Heater": {BaseWatts: 2000, MaxWatts: 4000},
	"Dryer":        {BaseWatts: 2000, MaxWatts: 3000},
}

// dutyCycle discounts nameplate draw to average sustained draw.
const dutyCycle = 0.85

// Lookup returns the profile for a device name, if known.
func Lookup(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// intensity maps a device reading to a 0..1 load ratio.
func intensity(r energy.DeviceReading) float64 {
	switch r.Property {
	case energy.PropBrightness, energy.PropSpeed, energy.PropVolume, energy.PropPressure, energy.PropPower:
		return clamp01(r.Value / 100)
	case energy.PropTemperature, energy.PropTemp:
		switch r.Name {
		case "AC":
			// Deviation from the 72F setpoint increases draw in both directions.
			return clamp01(0.5 + (math.Abs(r.Value-72)/25)*0.5)
		case "Water Heater":
			// Linear ramp from a 40F floor.
			return clamp01((r.Value - 40) / 80)
		default:
			return clamp01(r.Value / 100)
		}
	default:
		return 0.5
	}
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

// DeviceWatts returns the estimated draw of one device reading.
// Unknown and powered-off devices draw nothing.
func DeviceWatts(r energy.DeviceReading) float64 {
	if !r.IsOn {
		return 0
	}
	p, ok := profiles[r.Name]
	if !ok {
		return 0
	}
	ratio := intensity(r)
	return (p.BaseWatts + (p.MaxWatts-p.BaseWatts)*ratio) * dutyCycle
}

// TotalWatts sums the estimated draw across all rooms and devices.
func TotalWatts(states energy.DeviceStates) float64 {
	total := 0.0
	for _, readings := range states {
		for _, r := range readings {
			total += DeviceWatts(r)
		}
	}
	return total
}

// Estimator computes device consumption with a small memo cache, since
// device states repeat heavily between consecutive observations.
type Estimator struct {
	mu    sync.Mutex
	cache map[string]float64
}

// NewEstimator returns an estimator with an empty cache.
func NewEstimator() *Estimator {
	return &Estimator{cache: make(map[string]float64)}
}

const maxCacheEntries = 256

// Total computes the total draw for the given states, memoizing by a
// canonical key of the readings.
func (e *Estimator) Total(states energy.DeviceStates) float64 {
	key := cacheKey(states)

	e.mu.Lock()
	if v, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	total := TotalWatts(states)

	e.mu.Lock()
	if len(e.cache) >= maxCacheEntries {
		e.cache = make(map[string]float64)
	}
	e.cache[key] = total
	e.mu.Unlock()
	return total
}

func cacheKey(states energy.DeviceStates) string {
	rooms := make([]string, 0, len(states))
	for room := range states {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	var b strings.Builder
	for _, room := range rooms {
		b.WriteString(room)
		b.WriteByte('{')
		for _, r := range states[room] {
			b.WriteString(r.Name)
			if r.IsOn {
				b.WriteByte('+')
			} else {
				b.WriteByte('-')
			}
			// Quantize to whole units so tiny jitter still hits the cache.
			b.WriteString(strconv.Itoa(int(math.Round(r.Value))))
			b.WriteByte(';')
		}
		b.WriteByte('}')
	}
	return b.String()
}
