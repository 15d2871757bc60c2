// Package sensors provides the measurement sources for tracker reports:
// a synthetic simulator for benches without real sensor hardware, and
// radio readings taken from the modem itself.
package sensors

import (
	"math"
	"math/rand"
	"sync"
)

// Starting point for the simulated walk (Ottawa, Canada).
const (
	DefaultLatitude  = 45.448803
	DefaultLongitude = -75.635338
)

// Simulator produces synthetic sensor readings. Methods are safe for
// concurrent use; location and battery evolve between calls.
type Simulator struct {
	mu      sync.Mutex
	lat     float64
	lon     float64
	battery int
}

// NewSimulator returns a Simulator whose location walk starts at the
// given coordinates.
func NewSimulator(lat, lon float64) *Simulator {
	return &Simulator{lat: lat, lon: lon, battery: 100}
}

// Temperature returns a reading between 18.0 and 24.0 °C with 0.1 °C
// resolution.
func (s *Simulator) Temperature() float64 {
	return round1(18.0 + rand.Float64()*6.0)
}

// Humidity returns a relative humidity between 35.0 and 50.0 % with
// 0.1 % resolution.
func (s *Simulator) Humidity() float64 {
	return round1(35.0 + rand.Float64()*15.0)
}

// Battery returns the battery percentage. The level drifts down across
// calls and recharges to full once it drops below 5.
func (s *Simulator) Battery() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rand.Intn(2) == 0 {
		s.battery--
	}
	if s.battery < 5 {
		s.battery = 100
	}
	return uint8(s.battery)
}

// Move advances the position by a small random amount with an eastward
// bias and returns the new coordinates rounded to 1e-6 degrees.
func (s *Simulator) Move() (lat, lon float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lat += -0.0001 + rand.Float64()*0.0002
	s.lon += 0.0001 + rand.Float64()*0.0002
	return round6(s.lat), round6(s.lon)
}

// Steps returns a simulated step count for a motion window of the given
// length, roughly one to two steps per second of window.
func (s *Simulator) Steps(windowSeconds int) int {
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	rate := 0.8 + rand.Float64()
	steps := int(rate*float64(windowSeconds)) + rand.Intn(11) - 5
	if steps < 0 {
		return 0
	}
	return steps
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
