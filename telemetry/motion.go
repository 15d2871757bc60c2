package telemetry

import (
	"context"
	"time"

	"github.com/zencross/tracker/wire"
)

// runMotion reports a motion summary once per motion interval. The
// first window closes one interval after startup.
func (c *Client) runMotion(ctx context.Context) error {
	ticker := time.NewTicker(c.motionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.reportMotion(ctx)
		}
	}
}

// reportMotion sends the step count accumulated over the window that
// just closed.
func (c *Client) reportMotion(ctx context.Context) {
	now := time.Now().Unix()
	window := clampUint16(int64(c.motionInterval / time.Second))
	summary := wire.MotionSummary{
		WindowStart:   uint32(now) - uint32(window),
		WindowSeconds: window,
		Steps:         clampUint16(int64(c.sim.Steps(int(window)))),
	}
	c.sendAndAwait(ctx, "motion", wire.CmdMotion, wire.Timestamp(now), summary)
}
