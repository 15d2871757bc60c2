package telemetry

import (
	"context"
	"math"
	"time"

	"github.com/zencross/tracker/sensors"
	"github.com/zencross/tracker/wire"
)

// runTelemetry reports a telemetry packet immediately and then once per
// reporting interval. The interval is re-read from the settings
// snapshot every cycle so a configuration write takes effect at the
// next sleep.
func (c *Client) runTelemetry(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap := c.settings.Snapshot()
		c.reportTelemetry(ctx, snap)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(snap.Reporting):
		}
	}
}

// reportTelemetry builds and sends one telemetry packet: the current
// timestamp, a location fix, and the cycle's reading series. The series
// covers one reading per reading interval across the reporting window,
// stamped from a window start floored to the minute.
func (c *Client) reportTelemetry(ctx context.Context, snap Settings) {
	now := time.Now().Unix()

	count := 1
	if snap.Reading > 0 {
		count = int(snap.Reporting / snap.Reading)
	}
	if count < 1 {
		count = 1
	}
	if count > maxCycleRecords {
		count = maxCycleRecords
	}

	interval := int64(snap.Reading / time.Second)
	first := now - int64(count)*interval
	first -= first % 60

	records := make([]wire.TempHumidity, count)
	for i := range records {
		records[i] = wire.TempHumidity{
			Temperature: c.sim.Temperature(),
			Humidity:    c.sim.Humidity(),
		}
	}
	reading := wire.MultiReading{
		Battery:      c.sim.Battery(),
		RSSI:         sensors.ReadRSSI(ctx, c.term),
		FirstReading: uint32(first),
		Interval:     clampUint16(interval),
		Records:      records,
	}

	c.sendAndAwait(ctx, "telemetry", wire.CmdTelemetry,
		wire.Timestamp(now), c.location(ctx), reading)
}

// location produces the packet's position fix. The cell source falls
// back to a simulated fix when the measurement fails, so a telemetry
// cycle always carries a location.
func (c *Client) location(ctx context.Context) wire.Payload {
	if c.locationSource == LocationCell {
		cell, err := sensors.ReadServingCell(ctx, c.term)
		if err == nil {
			return wire.CellLocation{
				MCC:    cell.MCC,
				MNC:    cell.MNC,
				LAC:    cell.LAC,
				CellID: cell.CellID,
				RSSI:   clampInt8(cell.RSSI),
			}
		}
		c.log.Warn("serving cell unavailable, sending simulated fix", "error", err)
	}
	lat, lon := c.sim.Move()
	return wire.GNSSLocation{Lat: float32(lat), Lon: float32(lon)}
}

func clampUint16(v int64) uint16 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func clampInt8(v int) int8 {
	if v < math.MinInt8 {
		return math.MinInt8
	}
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	return int8(v)
}
