package power

import (
	"math"
	"testing"

	"github.com/wattscope/wattscope/pkg/energy"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDeviceWatts(t *testing.T) {
	tests := []struct {
		name    string
		reading energy.DeviceReading
		want    float64
	}{
		{
			name:    "main light at full brightness",
			reading: energy.DeviceReading{Name: "Main Light", IsOn: true, Value: 100, Property: energy.PropBrightness},
			want:    51.0, // (15 + 45*1.0) * 0.85
		},
		{
			name:    "main light at zero brightness draws base only",
			reading: energy.DeviceReading{Name: "Main Light", IsOn: true, Value: 0, Property: energy.PropBrightness},
			want:    15 * 0.85,
		},
		{
			name:    "water heater at the 40F floor draws base only",
			reading: energy.DeviceReading{Name: "Water Heater", IsOn: true, Value: 40, Property: energy.PropTemperature},
			want:    1700.0, // ratio 0 at the floor, 2000 * 0.85
		},
		{
			name:    "water heater at 120F draws full range",
			reading: energy.DeviceReading{Name: "Water Heater", IsOn: true, Value: 120, Property: energy.PropTemperature},
			want:    3400.0, // ratio 1, 4000 * 0.85
		},
		{
			name:    "unknown property kind uses flat midpoint",
			reading: energy.DeviceReading{Name: "Fan", IsOn: true, Value: 99, Property: energy.PropOther},
			want:    (25 + 50*0.5) * 0.85,
		},
		{
			name:    "device off draws nothing",
			reading: energy.DeviceReading{Name: "AC", IsOn: false, Value: 65, Property: energy.PropTemperature},
			want:    0,
		},
		{
			name:    "unknown device draws nothing",
			reading: energy.DeviceReading{Name: "Hologram Projector", IsOn: true, Value: 100, Property: energy.PropBrightness},
			want:    0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeviceWatts(tt.reading)
			if !almostEqual(got, tt.want) {
				t.Errorf("DeviceWatts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeviceWatts_NeverExceedsDutyCycledMax(t *testing.T) {
	for name, p := range profiles {
		for _, v := range []float64{-50, 0, 50, 72, 100, 500} {
			for _, prop := range []energy.PropertyKind{energy.PropBrightness, energy.PropTemperature, energy.PropOther} {
				got := DeviceWatts(energy.DeviceReading{Name: name, IsOn: true, Value: v, Property: prop})
				if got > p.MaxWatts*dutyCycle+1e-9 {
					t.Errorf("%s value=%v property=%s: draw %v exceeds bound %v",
						name, v, prop, got, p.MaxWatts*dutyCycle)
				}
				if got < 0 {
					t.Errorf("%s: negative draw %v", name, got)
				}
			}
		}
	}
}

func TestDeviceWatts_ACMinimumAtSetpoint(t *testing.T) {
	at := func(v float64) float64 {
		return DeviceWatts(energy.DeviceReading{Name: "AC", IsOn: true, Value: v, Property: energy.PropTemperature})
	}
	setpoint := at(72)
	for _, v := range []float64{60, 65, 70, 74, 80, 85} {
		if at(v) < setpoint {
			t.Errorf("AC draw at %vF (%v) below setpoint draw (%v)", v, at(v), setpoint)
		}
	}
	// Draw grows monotonically with distance from the setpoint.
	if !(at(85) > at(78) && at(78) > at(73)) {
		t.Error("AC draw not monotone above setpoint")
	}
	if !(at(60) > at(66) && at(66) > at(71)) {
		t.Error("AC draw not monotone below setpoint")
	}
}

func TestTotalWatts_SumsAcrossRooms(t *testing.T) {
	states := energy.DeviceStates{
		"livingroom": {
			{Name: "Main Light", IsOn: true, Value: 100, Property: energy.PropBrightness},
			{Name: "TV", IsOn: false, Value: 50, Property: energy.PropVolume},
		},
		"bedroom": {
			{Name: "Fan", IsOn: true, Value: 50, Property: energy.PropSpeed},
		},
	}
	want := 51.0 + (25+50*0.5)*0.85
	if got := TotalWatts(states); !almostEqual(got, want) {
		t.Errorf("TotalWatts() = %v, want %v", got, want)
	}
}

func TestEstimator_CachesAndMatchesDirect(t *testing.T) {
	e := NewEstimator()
	states := energy.DeviceStates{
		"kitchen": {{Name: "Microwave", IsOn: true, Value: 80, Property: energy.PropPower}},
	}
	direct := TotalWatts(states)
	if got := e.Total(states); !almostEqual(got, direct) {
		t.Fatalf("Total() = %v, want %v", got, direct)
	}
	// Second call must come from the cache and stay identical.
	if got := e.Total(states); !almostEqual(got, direct) {
		t.Fatalf("cached Total() = %v, want %v", got, direct)
	}
	if len(e.cache) != 1 {
		t.Errorf("cache size = %d, want 1", len(e.cache))
	}
}
