package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/zencross/tracker/sensors"
	"github.com/zencross/tracker/telemetry"
)

// LocationConfig selects where telemetry location fixes come from and
// seeds the simulated walk.
type LocationConfig struct {
	// Type is the location source, "simulated" or "cell"
	Type string `yaml:"type"`
	// Latitude is the starting latitude for simulated fixes
	Latitude float64 `yaml:"lat"`
	// Longitude is the starting longitude for simulated fixes
	Longitude float64 `yaml:"lon"`
}

// Config holds the application configuration
type Config struct {
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud"`
	// Server is the collector address in the form "host:port"
	Server string `yaml:"server"`
	// ReportingInterval is the number of seconds between telemetry reports
	ReportingInterval int `yaml:"interval"`
	// ReadingInterval is the number of seconds between sensor readings
	ReadingInterval int `yaml:"readings"`
	// MotionInterval is the number of seconds between motion summaries
	MotionInterval int `yaml:"motion"`
	// CustomerCode is the customer identity as eight hex digits
	CustomerCode string `yaml:"code"`
	// IMEI overrides the device identity normally read from the modem
	IMEI string `yaml:"imei"`
	// APN is the packet data APN, empty to keep the SIM default
	APN string `yaml:"apn"`
	// Location selects the location source and simulated start coordinates
	Location LocationConfig `yaml:"location"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.Server = "udp-eu.tartabit.com:10106"
		c.ReportingInterval = 120
		c.ReadingInterval = 60
		c.MotionInterval = 300
		c.CustomerCode = "00000000"
		c.Location.Type = telemetry.LocationSimulated
		c.Location.Latitude = sensors.DefaultLatitude
		c.Location.Longitude = sensors.DefaultLongitude
		c.LogLevel = "info"
		return nil
	}
}

// WithFile overlays values from a YAML configuration file. Keys absent
// from the file keep their current values, and a missing file is not an
// error.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}

		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if server := os.Getenv("SERVER_ADDRESS"); server != "" {
			c.Server = server
		}

		if interval := os.Getenv("REPORTING_INTERVAL"); interval != "" {
			if n, err := strconv.Atoi(interval); err == nil {
				c.ReportingInterval = n
			}
		}

		if readings := os.Getenv("READING_INTERVAL"); readings != "" {
			if n, err := strconv.Atoi(readings); err == nil {
				c.ReadingInterval = n
			}
		}

		if motion := os.Getenv("MOTION_INTERVAL"); motion != "" {
			if n, err := strconv.Atoi(motion); err == nil {
				c.MotionInterval = n
			}
		}

		if code := os.Getenv("CUSTOMER_CODE"); code != "" {
			c.CustomerCode = code
		}

		if imei := os.Getenv("IMEI"); imei != "" {
			c.IMEI = imei
		}

		if apn := os.Getenv("APN"); apn != "" {
			c.APN = apn
		}

		if src := os.Getenv("LOCATION_TYPE"); src != "" {
			c.Location.Type = src
		}

		if lat := os.Getenv("LOCATION_LAT"); lat != "" {
			if v, err := strconv.ParseFloat(lat, 64); err == nil {
				c.Location.Latitude = v
			}
		}

		if lon := os.Getenv("LOCATION_LON"); lon != "" {
			if v, err := strconv.ParseFloat(lon, 64); err == nil {
				c.Location.Longitude = v
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "server":
				c.Server = f.Value.String()
			case "interval":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.ReportingInterval = n
				}
			case "readings":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.ReadingInterval = n
				}
			case "motion-interval":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.MotionInterval = n
				}
			case "customer-code":
				c.CustomerCode = f.Value.String()
			case "imei":
				c.IMEI = f.Value.String()
			case "apn":
				c.APN = f.Value.String()
			case "location-type":
				c.Location.Type = f.Value.String()
			case "location-lat":
				if v, err := strconv.ParseFloat(f.Value.String(), 64); err == nil {
					c.Location.Latitude = v
				}
			case "location-lon":
				if v, err := strconv.ParseFloat(f.Value.String(), 64); err == nil {
					c.Location.Longitude = v
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			}

		})
		return nil
	}

}
