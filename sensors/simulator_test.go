package sensors_test

import (
	"math"
	"testing"

	"github.com/zencross/tracker/sensors"
)

func TestSimulatorTemperature(t *testing.T) {
	sim := sensors.NewSimulator(sensors.DefaultLatitude, sensors.DefaultLongitude)

	for range 200 {
		v := sim.Temperature()
		if v < 18.0 || v > 24.0 {
			t.Fatalf("temperature %v out of range", v)
		}
		if math.Abs(v*10-math.Round(v*10)) > 1e-9 {
			t.Fatalf("temperature %v not rounded to 0.1", v)
		}
	}
}

func TestSimulatorHumidity(t *testing.T) {
	sim := sensors.NewSimulator(sensors.DefaultLatitude, sensors.DefaultLongitude)

	for range 200 {
		v := sim.Humidity()
		if v < 35.0 || v > 50.0 {
			t.Fatalf("humidity %v out of range", v)
		}
	}
}

func TestSimulatorBattery(t *testing.T) {
	sim := sensors.NewSimulator(sensors.DefaultLatitude, sensors.DefaultLongitude)

	prev := sim.Battery()
	recharged := false
	for range 500 {
		v := sim.Battery()
		if v < 5 || v > 100 {
			t.Fatalf("battery %v out of range", v)
		}
		if v > prev {
			recharged = true
		}
		prev = v
	}
	// 500 draws decrement roughly 250 times, so the level must have
	// wrapped back to full at least once.
	if !recharged {
		t.Error("battery never recharged")
	}
}

func TestSimulatorMove(t *testing.T) {
	sim := sensors.NewSimulator(sensors.DefaultLatitude, sensors.DefaultLongitude)

	lon := sensors.DefaultLongitude
	for range 50 {
		gotLat, gotLon := sim.Move()
		if gotLon <= lon {
			t.Fatalf("longitude %v did not move east of %v", gotLon, lon)
		}
		if math.Abs(gotLat-sensors.DefaultLatitude) > 0.0001*51 {
			t.Fatalf("latitude %v drifted too far", gotLat)
		}
		if math.Abs(gotLat*1e6-math.Round(gotLat*1e6)) > 1e-6 {
			t.Fatalf("latitude %v not rounded to 1e-6", gotLat)
		}
		lon = gotLon
	}
}

func TestSimulatorSteps(t *testing.T) {
	sim := sensors.NewSimulator(sensors.DefaultLatitude, sensors.DefaultLongitude)

	for range 200 {
		v := sim.Steps(60)
		if v < 43 || v > 113 {
			t.Fatalf("steps %v out of range for 60s window", v)
		}
	}

	// Degenerate windows count as one second and never go negative.
	for range 200 {
		if v := sim.Steps(0); v < 0 || v > 6 {
			t.Fatalf("steps %v out of range for empty window", v)
		}
	}
}
