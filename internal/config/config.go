// Package config loads tracker settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.yml"

// Config is the root configuration structure.
type Config struct {
	Port            int             `yaml:"port" validate:"gt=0,lte=65535"`
	CORSOrigin      string          `yaml:"cors_origin"`
	LogLevel        string          `yaml:"log_level" validate:"oneof=trace debug info warn warning error"`
	LogFormat       string          `yaml:"log_format" validate:"oneof=text json"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes" validate:"gt=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" validate:"gt=0"`
	Nearest         NearestConfig   `yaml:"nearest"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	GTFSRT          GTFSRTConfig    `yaml:"gtfsrt"`
}

// NearestConfig bounds the result size of nearest queries.
type NearestConfig struct {
	DefaultLimit int `yaml:"default_limit" validate:"gt=0"`
	MaxLimit     int `yaml:"max_limit" validate:"gtefield=DefaultLimit"`
}

// RateLimitConfig limits update submissions per client. Zero requests
// disables the limiter.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" validate:"gte=0"`
	Window   time.Duration `yaml:"window" validate:"gt=0"`
	// Peers whose X-Forwarded-For / X-Real-IP headers are believed.
	TrustedProxies []string `yaml:"trusted_proxies" validate:"dive,cidr|ip"`
}

// MQTTConfig enables the MQTT ingest when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker" validate:"omitempty,url"`
	Topic    string `yaml:"topic" validate:"required_with=Broker"`
	ClientID string `yaml:"client_id" validate:"required_with=Broker"`
	QoS      byte   `yaml:"qos" validate:"lte=2"`
}

// GTFSRTConfig enables the GTFS-Realtime poller when URL is set.
type GTFSRTConfig struct {
	URL      string        `yaml:"url" validate:"omitempty,url"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Port:            3000,
		CORSOrigin:      "*",
		LogLevel:        "info",
		LogFormat:       "text",
		MaxBodyBytes:    1 << 20,
		ShutdownTimeout: 10 * time.Second,
		Nearest: NearestConfig{
			DefaultLimit: 5,
			MaxLimit:     100,
		},
		RateLimit: RateLimitConfig{
			Requests: 0,
			Window:   time.Minute,
		},
		MQTT: MQTTConfig{
			Topic:    "buses/+/state",
			ClientID: "where-is-my-bus",
			QoS:      1,
		},
		GTFSRT: GTFSRTConfig{
			Interval: 15 * time.Second,
			Timeout:  10 * time.Second,
		},
	}
}

// Load builds the configuration. A missing .env or default config.yml is
// not an error; a CONFIG_FILE that cannot be read is.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	path := os.Getenv("CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	if err := loadFile(&cfg, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setInt("PORT", &cfg.Port)
	setString("CORS_ORIGIN", &cfg.CORSOrigin)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("LOG_FORMAT", &cfg.LogFormat)
	setDuration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES: %w", err))
		} else {
			cfg.MaxBodyBytes = n
		}
	}

	setInt("NEAREST_DEFAULT_LIMIT", &cfg.Nearest.DefaultLimit)
	setInt("NEAREST_MAX_LIMIT", &cfg.Nearest.MaxLimit)

	setInt("UPDATE_RATE_LIMIT", &cfg.RateLimit.Requests)
	setDuration("UPDATE_RATE_WINDOW", &cfg.RateLimit.Window)
	if v, ok := os.LookupEnv("TRUSTED_PROXIES"); ok {
		cfg.RateLimit.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.RateLimit.TrustedProxies = append(cfg.RateLimit.TrustedProxies, p)
			}
		}
	}

	setString("MQTT_BROKER", &cfg.MQTT.Broker)
	setString("MQTT_TOPIC", &cfg.MQTT.Topic)
	setString("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)

	setString("GTFSRT_URL", &cfg.GTFSRT.URL)
	setDuration("GTFSRT_INTERVAL", &cfg.GTFSRT.Interval)
	setDuration("GTFSRT_TIMEOUT", &cfg.GTFSRT.Timeout)

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
