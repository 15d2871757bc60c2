// Package telemetry implements the tracker's application layer: the
// power-on handshake with the collector, the periodic telemetry and
// motion producers, and the inbound dispatcher that routes collector
// packets (acknowledgments, configuration reads, configuration writes)
// back into the running client.
package telemetry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zencross/tracker/at"
	"github.com/zencross/tracker/sensors"
	"github.com/zencross/tracker/wire"
)

// Location sources. Simulated fixes come from the sensor simulator's
// random walk; cell fixes come from the modem's serving cell
// measurement.
const (
	LocationSimulated = "simulated"
	LocationCell      = "cell"
)

const (
	// ackTimeout bounds the wait for a collector acknowledgment.
	ackTimeout = 30 * time.Second
	// attachPollDelay separates operator queries while waiting for the
	// network to attach.
	attachPollDelay = 2 * time.Second
	// receiveMax is the largest inbound datagram requested per read.
	receiveMax = 1500
	// maxCycleRecords keeps a telemetry reading series inside the
	// 255-byte variant length (9 fixed bytes + 4 per record).
	maxCycleRecords = 61
)

// ErrNoTerminal is returned when a Client is constructed without a
// Terminal.
var ErrNoTerminal = errors.New("no terminal configured")

// Terminal is the modem surface the client drives: AT commands, event
// delivery, and the UDP socket service. *modem.Modem satisfies it.
type Terminal interface {
	Send(ctx context.Context, cmd string) (at.Result, error)
	NextEvent(timeout time.Duration) (at.Event, bool)
	ConnectUDP(ctx context.Context, host string, port int) error
	SocketSend(ctx context.Context, payload []byte) error
	SocketReceive(ctx context.Context, maxLen int) ([]byte, error)
}

// Config assembles a Client.
type Config struct {
	// Terminal is the modem the client talks through. Required.
	Terminal Terminal

	// Settings holds the initial collector address and report
	// intervals; the collector may rewrite them at runtime.
	Settings Settings

	// CustomerCode is the account identity sent at power on, exactly
	// eight hex digits.
	CustomerCode string

	// DeviceID overrides the IMEI read from the modem when set.
	DeviceID string

	// MotionInterval is the motion summary period. Defaults to five
	// minutes.
	MotionInterval time.Duration

	// LocationSource selects LocationSimulated or LocationCell.
	// Defaults to LocationSimulated.
	LocationSource string

	// Latitude and Longitude seed the simulated walk. Both zero means
	// the simulator's default start.
	Latitude  float64
	Longitude float64

	// Software is the application version reported at power on.
	Software string

	// Logger receives client progress and fault logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Client owns the application protocol session: startup identification
// and network attach, the collector socket, and the packet producers.
// Create one with New and drive it with Run.
type Client struct {
	term     Terminal
	log      *slog.Logger
	settings *SettingsStore
	corr     *Correlator
	sim      *sensors.Simulator

	customer       [4]byte
	software       string
	motionInterval time.Duration
	locationSource string

	// Startup products, written before the producers start.
	deviceID wire.DeviceID
	firmware string

	// Shrunk by tests to keep waits short.
	ackWait   time.Duration
	eventPoll time.Duration
}

// New validates cfg and returns a Client ready to Run.
func New(cfg Config) (*Client, error) {
	if cfg.Terminal == nil {
		return nil, ErrNoTerminal
	}
	customer, err := hex.DecodeString(cfg.CustomerCode)
	if err != nil || len(customer) != 4 {
		return nil, fmt.Errorf("customer code %q: need exactly 8 hex digits", cfg.CustomerCode)
	}
	if _, _, err := splitServer(cfg.Settings.Server); err != nil {
		return nil, err
	}
	if cfg.Settings.Reporting <= 0 || cfg.Settings.Reading <= 0 {
		return nil, fmt.Errorf("report intervals must be positive, got %v/%v",
			cfg.Settings.Reporting, cfg.Settings.Reading)
	}
	source := cfg.LocationSource
	if source == "" {
		source = LocationSimulated
	}
	if source != LocationSimulated && source != LocationCell {
		return nil, fmt.Errorf("unknown location source %q", source)
	}
	if cfg.MotionInterval <= 0 {
		cfg.MotionInterval = 5 * time.Minute
	}
	if cfg.Software == "" {
		cfg.Software = "unknown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	lat, lon := cfg.Latitude, cfg.Longitude
	if lat == 0 && lon == 0 {
		lat, lon = sensors.DefaultLatitude, sensors.DefaultLongitude
	}

	c := &Client{
		term:           cfg.Terminal,
		log:            cfg.Logger,
		settings:       NewSettingsStore(cfg.Settings),
		corr:           NewCorrelator(),
		sim:            sensors.NewSimulator(lat, lon),
		software:       cfg.Software,
		motionInterval: cfg.MotionInterval,
		locationSource: source,
		ackWait:        ackTimeout,
		eventPoll:      5 * time.Second,
	}
	copy(c.customer[:], customer)
	if cfg.DeviceID != "" {
		c.deviceID = wire.ParseDeviceID(cfg.DeviceID)
		c.log.Info("device id configured", "imei", cfg.DeviceID)
	}
	return c, nil
}

// Run connects to the collector and drives the session until ctx is
// canceled or the startup sequence fails: the inbound dispatcher, the
// telemetry producer (preceded by the power-on announcement), and the
// motion producer.
func (c *Client) Run(ctx context.Context) error {
	mcc, mnc, rat, err := c.connect(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.runDispatcher(ctx)
	})
	g.Go(func() error {
		c.announce(ctx, mcc, mnc, rat)
		return c.runTelemetry(ctx)
	})
	g.Go(func() error {
		return c.runMotion(ctx)
	})
	return g.Wait()
}

// connect performs the startup sequence up to a usable collector
// socket and returns the attached network identity.
func (c *Client) connect(ctx context.Context) (mcc, mnc, rat string, err error) {
	if err := c.readIdentity(ctx); err != nil {
		return "", "", "", err
	}
	network, rat, err := c.attachNetwork(ctx)
	if err != nil {
		return "", "", "", err
	}
	mcc, mnc = splitPLMN(network)

	host, port, err := splitServer(c.settings.Snapshot().Server)
	if err != nil {
		return "", "", "", err
	}
	if err := c.term.ConnectUDP(ctx, host, port); err != nil {
		return "", "", "", fmt.Errorf("connect collector: %w", err)
	}
	return mcc, mnc, rat, nil
}

// readIdentity fills in the device id and modem firmware version. A
// modem that cannot report them is tolerated; the identity fields fall
// back to their zero forms and the session continues.
func (c *Client) readIdentity(ctx context.Context) error {
	if c.deviceID == (wire.DeviceID{}) {
		res, err := c.term.Send(ctx, at.CmdIMEI)
		if err != nil {
			return fmt.Errorf("read imei: %w", err)
		}
		if res.Success && res.Text() != "" {
			c.deviceID = wire.ParseDeviceID(res.Text())
			c.log.Info("device id read", "imei", res.Text())
		} else {
			c.log.Warn("imei unavailable, reporting zero device id")
		}
	}

	res, err := c.term.Send(ctx, at.CmdICCID)
	if err != nil {
		return fmt.Errorf("read iccid: %w", err)
	}
	if res.Success && res.Text() != "" {
		c.log.Info("sim identified", "iccid", res.Text())
	} else {
		c.log.Warn("iccid unavailable")
	}

	res, err = c.term.Send(ctx, at.CmdFirmwareVersion)
	if err != nil {
		return fmt.Errorf("read firmware version: %w", err)
	}
	c.firmware = "unknown"
	if res.Success && res.Text() != "" {
		c.firmware = res.Text()
	}
	c.log.Info("modem firmware", "version", c.firmware)
	return nil
}

// attachNetwork selects an operator, switches the read-back format to
// numeric, and polls until the modem reports one. It returns the
// numeric operator (PLMN) and the radio technology name.
func (c *Client) attachNetwork(ctx context.Context) (network, rat string, err error) {
	if _, err := c.term.Send(ctx, at.CmdOperatorAuto); err != nil {
		return "", "", fmt.Errorf("select operator: %w", err)
	}
	if _, err := c.term.Send(ctx, at.CmdOperatorNumeric); err != nil {
		return "", "", fmt.Errorf("set operator format: %w", err)
	}
	for {
		res, err := c.term.Send(ctx, at.CmdOperatorQuery)
		if err != nil {
			return "", "", fmt.Errorf("query operator: %w", err)
		}
		if res.Success && len(res.Fields) >= 3 {
			network = res.Fields[2]
			rat = "unknown"
			if len(res.Fields) >= 4 {
				rat = ratName(res.Fields[3])
			}
			c.log.Info("network attached", "operator", network, "rat", rat)
			return network, rat, nil
		}
		c.log.Info("waiting for network")
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(attachPollDelay):
		}
	}
}

// announce sends the power-on packet and the initial configuration
// report. Missing acknowledgments are logged, not fatal; the collector
// can recover the state from the next telemetry cycle.
func (c *Client) announce(ctx context.Context, mcc, mnc, rat string) {
	c.sendAndAwait(ctx, "power on", wire.CmdPowerOn, wire.PowerOnInfo{
		CustomerID: c.customer,
		Software:   c.software,
		Firmware:   c.firmware,
		MCC:        mcc,
		MNC:        mnc,
		RAT:        rat,
	})
	c.sendAndAwait(ctx, "initial configuration", wire.CmdConfig, c.settings.Pairs())
}

// sendAndAwait encodes one application packet under a fresh transaction
// id, sends it to the collector, and waits for its acknowledgment.
// Failures are logged with the packet name; callers decide whether the
// cycle retries.
func (c *Client) sendAndAwait(ctx context.Context, what string, cmd wire.Command, payloads ...wire.Payload) {
	txn := c.corr.NextID()
	packet, err := wire.EncodePacket(c.header(cmd, txn), payloads...)
	if err != nil {
		c.log.Error("packet encode failed", "packet", what, "txn", txn, "error", err)
		return
	}
	if err := c.term.SocketSend(ctx, packet); err != nil {
		c.log.Warn("packet send failed", "packet", what, "txn", txn, "error", err)
		return
	}
	if c.corr.AwaitAck(ctx, txn, c.ackWait) {
		c.log.Info("packet acknowledged", "packet", what, "txn", txn)
	} else {
		c.log.Warn("packet not acknowledged", "packet", what, "txn", txn)
	}
}

func (c *Client) header(cmd wire.Command, txn uint16) wire.Header {
	return wire.Header{
		Version:  wire.Version,
		Command:  cmd,
		TxnID:    txn,
		DeviceID: c.deviceID,
	}
}

func ratName(code string) string {
	switch code {
	case "0":
		return "GSM"
	case "2":
		return "UTRAN"
	case "7":
		return "LTE-M"
	case "9":
		return "NB-IoT"
	}
	return "unknown-" + code
}

// splitPLMN cuts a numeric operator into country and network codes.
// Operators shorter than a full PLMN report as 000/000.
func splitPLMN(network string) (mcc, mnc string) {
	mcc, mnc = "000", "000"
	if len(network) >= 3 {
		mcc = network[:3]
		mnc = network[3:]
		if len(mnc) > 3 {
			mnc = mnc[:3]
		}
		if mnc == "" {
			mnc = "000"
		}
	}
	return mcc, mnc
}

func splitServer(addr string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("server address %q: %w", addr, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("server address %q: missing host", addr)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("server address %q: bad port", addr)
	}
	return host, port, nil
}
