package modem

import (
	"log/slog"
	"time"
)

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

type Config struct {
	Dialer         Dialer
	APN            string
	ATTimeout      time.Duration
	InitTimeout    time.Duration
	EventBuffer    int
	ReopenMinDelay time.Duration
	ReopenMaxDelay time.Duration
	Logger         *slog.Logger
}

func (c *Config) setDefaults() {
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 128
	}
	if c.ReopenMinDelay == 0 {
		c.ReopenMinDelay = 500 * time.Millisecond
	}
	if c.ReopenMaxDelay == 0 {
		c.ReopenMaxDelay = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConfigBuilder assembles a Config with defaults applied.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

// WithAPN sets the APN for the PDP context defined during Init. When
// empty, the modem's stored default context is used.
func (b *ConfigBuilder) WithAPN(apn string) *ConfigBuilder {
	b.config.APN = apn
	return b
}

// WithATTimeout bounds how long a single command waits for its final
// result line.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

// WithInitTimeout bounds the whole Init sequence.
func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

// WithEventBuffer sets how many unsolicited events are held for the
// consumer before new ones are dropped.
func (b *ConfigBuilder) WithEventBuffer(n int) *ConfigBuilder {
	b.config.EventBuffer = n
	return b
}

// WithReopenDelay sets the backoff range used when redialing a broken
// transport.
func (b *ConfigBuilder) WithReopenDelay(min, max time.Duration) *ConfigBuilder {
	b.config.ReopenMinDelay = min
	b.config.ReopenMaxDelay = max
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) Build() (Config, error) {
	config := b.config
	config.setDefaults()
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}
