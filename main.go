package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zencross/tracker/modem"
	"github.com/zencross/tracker/sensors"
	"github.com/zencross/tracker/telemetry"
)

// softwareVersion is reported to the collector in the power-on packet.
const softwareVersion = "1.0.0"

func main() {
	configPath := flag.String("config", "", `Path to a YAML configuration file (default "config.yaml")`)
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("server", "udp-eu.tartabit.com:10106", "Collector address in the form host:port")
	flag.Int("interval", 120, "Reporting interval in seconds")
	flag.Int("readings", 60, "Reading interval in seconds")
	flag.Int("motion-interval", 300, "Motion summary interval in seconds")
	flag.String("customer-code", "00000000", "Customer code as eight hex digits")
	flag.String("imei", "", "Override the IMEI (default: read from modem)")
	flag.String("apn", "", "Packet data APN")
	flag.String("location-type", telemetry.LocationSimulated, "Location source (simulated, cell)")
	flag.Float64("location-lat", sensors.DefaultLatitude, "Starting latitude for simulated fixes")
	flag.Float64("location-lon", sensors.DefaultLongitude, "Starting longitude for simulated fixes")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = "config.yaml"
	}

	config, err := LoadConfig(WithDefaults(), WithFile(path), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(5 * time.Second).
		WithInitTimeout(30 * time.Second).
		WithAPN(config.APN).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		WithLogger(logger.With("component", "modem")).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	m, err := modem.New(context.Background(), modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	client, err := telemetry.New(telemetry.Config{
		Terminal: m,
		Settings: telemetry.Settings{
			Server:    config.Server,
			Reporting: time.Duration(config.ReportingInterval) * time.Second,
			Reading:   time.Duration(config.ReadingInterval) * time.Second,
		},
		CustomerCode:   config.CustomerCode,
		DeviceID:       config.IMEI,
		MotionInterval: time.Duration(config.MotionInterval) * time.Second,
		LocationSource: config.Location.Type,
		Latitude:       config.Location.Latitude,
		Longitude:      config.Location.Longitude,
		Software:       softwareVersion,
		Logger:         logger.With("component", "telemetry"),
	})
	if err != nil {
		logger.Error("Failed to create telemetry client", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting tracker", "server", config.Server, "serial_port", config.SerialPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.Loop(gctx)
	})
	g.Go(func() error {
		if err := m.Init(gctx); err != nil {
			return fmt.Errorf("modem init: %w", err)
		}
		return client.Run(gctx)
	})

	err = g.Wait()

	logger.Info("Closing modem connection")
	if closeErr := m.Close(); closeErr != nil {
		logger.Error("Failed to close modem", "error", closeErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Tracker stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("Goodbye")
}
