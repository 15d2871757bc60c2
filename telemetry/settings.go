package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/atomic"

	"github.com/zencross/tracker/wire"
)

// Keys understood by collector configuration writes. Interval values
// are whole seconds.
const (
	keyServer   = "server"
	keyInterval = "interval"
	keyReadings = "readings"
)

// Settings carries the collector-adjustable runtime parameters. A
// Settings value is immutable once published; producers take one
// snapshot per cycle so a concurrent write never tears a cycle.
type Settings struct {
	Server    string        // collector address, host:port
	Reporting time.Duration // telemetry cycle period
	Reading   time.Duration // sensor sampling period
}

// SettingsStore publishes the current Settings snapshot shared by the
// producers and the inbound dispatcher. Reads never block writes.
type SettingsStore struct {
	cur *atomic.Pointer[Settings]
}

// NewSettingsStore returns a store holding initial.
func NewSettingsStore(initial Settings) *SettingsStore {
	return &SettingsStore{cur: atomic.NewPointer(&initial)}
}

// Snapshot returns the current settings.
func (st *SettingsStore) Snapshot() Settings {
	return *st.cur.Load()
}

// Apply validates pairs against the known keys and, when every
// recognized value parses, publishes the updated snapshot and returns
// it. Unknown keys are reported back, not applied. Any bad value
// rejects the whole write and the previous snapshot stays published.
func (st *SettingsStore) Apply(pairs wire.KeyValues) (Settings, []string, error) {
	next := st.Snapshot()
	var unknown []string
	for _, kv := range pairs {
		switch kv.Key {
		case keyServer:
			if _, _, err := splitServer(kv.Value); err != nil {
				return Settings{}, unknown, err
			}
			next.Server = kv.Value
		case keyInterval:
			d, err := parseSeconds(kv.Value)
			if err != nil {
				return Settings{}, unknown, fmt.Errorf("bad %s: %w", keyInterval, err)
			}
			next.Reporting = d
		case keyReadings:
			d, err := parseSeconds(kv.Value)
			if err != nil {
				return Settings{}, unknown, fmt.Errorf("bad %s: %w", keyReadings, err)
			}
			next.Reading = d
		default:
			unknown = append(unknown, kv.Key)
		}
	}
	st.cur.Store(&next)
	return next, unknown, nil
}

// Pairs renders the current snapshot as the key/value payload of a
// configuration report, in fixed key order.
func (st *SettingsStore) Pairs() wire.KeyValues {
	s := st.Snapshot()
	return wire.KeyValues{
		{Key: keyServer, Value: s.Server},
		{Key: keyInterval, Value: strconv.Itoa(int(s.Reporting / time.Second))},
		{Key: keyReadings, Value: strconv.Itoa(int(s.Reading / time.Second))},
	}
}

func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%d is not a positive second count", n)
	}
	return time.Duration(n) * time.Second, nil
}
