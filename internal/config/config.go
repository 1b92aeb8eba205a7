// Package config loads and validates the container configuration.
//
// Precedence: built-in defaults, then the optional YAML file, then TCC_*
// environment overrides. The result is passed to component constructors
// explicitly; nothing reads configuration from ambient state. Validation
// failures are fatal at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/tracker-control/tcc/internal/topic"
)

// ErrInvalid is the normalized code for out-of-range configuration values.
// Components fail construction with it and must not start.
var ErrInvalid = errors.New("INVALID_CONFIGURATION")

// Duration parses human-readable durations ("100ms", "5s") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler for environment
// overrides.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete container configuration.
type Config struct {
	// DomainPrefix scopes every channel name. All nodes of one deployment
	// must agree on it.
	DomainPrefix string `yaml:"domain_prefix" env:"TCC_DOMAIN_PREFIX"`

	// Encoding selects the payload encoding: "json" (default) or "msgpack".
	Encoding string `yaml:"encoding" env:"TCC_ENCODING"`

	// Tenants lists the tenant identifiers this node serves.
	Tenants []string `yaml:"tenants" env:"TCC_TENANTS" envSeparator:","`

	// Listen is the observer gateway bind address.
	Listen string `yaml:"listen" env:"TCC_LISTEN"`

	MQTT      MQTTConfig      `yaml:"mqtt"`
	Shaping   ShapingConfig   `yaml:"shaping"`
	Motion    MotionConfig    `yaml:"motion"`
	Observer  ObserverConfig  `yaml:"observer"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Auth      AuthConfig      `yaml:"auth"`
}

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	BrokerURL      string   `yaml:"broker_url" env:"TCC_MQTT_BROKER_URL"`
	ClientID       string   `yaml:"client_id" env:"TCC_MQTT_CLIENT_ID"`
	QoS            byte     `yaml:"qos" env:"TCC_MQTT_QOS"`
	ConnectTimeout Duration `yaml:"connect_timeout" env:"TCC_MQTT_CONNECT_TIMEOUT"`
	PublishTimeout Duration `yaml:"publish_timeout" env:"TCC_MQTT_PUBLISH_TIMEOUT"`
}

// ShapingConfig holds the command admission policy.
type ShapingConfig struct {
	// DeadZone is the minimum magnitude of change before a new command is
	// admitted. Zero disables suppression.
	DeadZone float64 `yaml:"dead_zone" env:"TCC_SHAPING_DEAD_ZONE"`
	// MinPublishInterval is the minimum time between admitted commands.
	MinPublishInterval Duration `yaml:"min_publish_interval" env:"TCC_SHAPING_MIN_PUBLISH_INTERVAL"`
	// QueueSize bounds the per-tenant sample queue. Excess samples are
	// dropped, never queued unboundedly and never blocking the producer.
	QueueSize int `yaml:"queue_size" env:"TCC_SHAPING_QUEUE_SIZE"`
}

// MotionConfig holds the actuator-side profile settings.
type MotionConfig struct {
	// StepSize bounds the magnitude of one actuation step.
	StepSize float64 `yaml:"step_size" env:"TCC_MOTION_STEP_SIZE"`
	// StepDelay is the fixed delay between consecutive steps.
	StepDelay Duration `yaml:"step_delay" env:"TCC_MOTION_STEP_DELAY"`
	// InitialPosition is the assumed actuator position at startup.
	InitialPosition float64 `yaml:"initial_position" env:"TCC_MOTION_INITIAL_POSITION"`
}

// ObserverConfig holds session registry settings.
type ObserverConfig struct {
	SessionBuffer int      `yaml:"session_buffer" env:"TCC_OBSERVER_SESSION_BUFFER"`
	SendTimeout   Duration `yaml:"send_timeout" env:"TCC_OBSERVER_SEND_TIMEOUT"`
	IdleTimeout   Duration `yaml:"idle_timeout" env:"TCC_OBSERVER_IDLE_TIMEOUT"`
}

// HeartbeatConfig holds liveness publication settings. The timeout is the
// window consumers should treat as liveness-down; it is advertised, not
// enforced here.
type HeartbeatConfig struct {
	Interval Duration `yaml:"interval" env:"TCC_HEARTBEAT_INTERVAL"`
	Jitter   Duration `yaml:"jitter" env:"TCC_HEARTBEAT_JITTER"`
	Timeout  Duration `yaml:"timeout" env:"TCC_HEARTBEAT_TIMEOUT"`
}

// AuthConfig holds the optional observer gateway token verification settings.
type AuthConfig struct {
	// Enabled turns on bearer-token verification for the gateway handshake.
	Enabled bool `yaml:"enabled" env:"TCC_AUTH_ENABLED"`
	// Algorithm is "HS256" or "RS256".
	Algorithm string `yaml:"algorithm" env:"TCC_AUTH_ALGORITHM"`
	// SecretKey is the HS256 shared secret.
	SecretKey string `yaml:"secret_key" env:"TCC_AUTH_SECRET_KEY"`
	// PublicKeyPEM is the RS256 verification key.
	PublicKeyPEM string `yaml:"public_key_pem" env:"TCC_AUTH_PUBLIC_KEY_PEM"`
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		DomainPrefix: topic.DefaultPrefix,
		Encoding:     "json",
		Listen:       ":8080",
		MQTT: MQTTConfig{
			BrokerURL:      "tcp://localhost:1883",
			QoS:            0,
			ConnectTimeout: Duration(5 * time.Second),
			PublishTimeout: Duration(2 * time.Second),
		},
		Shaping: ShapingConfig{
			DeadZone:           5,
			MinPublishInterval: Duration(100 * time.Millisecond),
			QueueSize:          16,
		},
		Motion: MotionConfig{
			StepSize:  3,
			StepDelay: Duration(20 * time.Millisecond),
		},
		Observer: ObserverConfig{
			SessionBuffer: 64,
			SendTimeout:   Duration(100 * time.Millisecond),
		},
		Heartbeat: HeartbeatConfig{
			Interval: Duration(5 * time.Second),
			Jitter:   Duration(500 * time.Millisecond),
			Timeout:  Duration(15 * time.Second),
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the value ranges. It fails with ErrInvalid; a component
// given an invalid configuration must not start.
func (c *Config) Validate() error {
	if c.Encoding != "json" && c.Encoding != "msgpack" {
		return fmt.Errorf("%w: unknown encoding %q", ErrInvalid, c.Encoding)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos must be 0..2, got %d", ErrInvalid, c.MQTT.QoS)
	}
	if c.Shaping.DeadZone < 0 {
		return fmt.Errorf("%w: dead zone must be non-negative, got %v", ErrInvalid, c.Shaping.DeadZone)
	}
	if c.Shaping.MinPublishInterval <= 0 {
		return fmt.Errorf("%w: min publish interval must be positive, got %v", ErrInvalid, c.Shaping.MinPublishInterval.Std())
	}
	if c.Shaping.QueueSize <= 0 {
		return fmt.Errorf("%w: sample queue size must be positive, got %d", ErrInvalid, c.Shaping.QueueSize)
	}
	if c.Motion.StepSize <= 0 {
		return fmt.Errorf("%w: step size must be positive, got %v", ErrInvalid, c.Motion.StepSize)
	}
	if c.Motion.StepDelay < 0 {
		return fmt.Errorf("%w: step delay must be non-negative, got %v", ErrInvalid, c.Motion.StepDelay.Std())
	}
	if c.Observer.SessionBuffer <= 0 {
		return fmt.Errorf("%w: session buffer must be positive, got %d", ErrInvalid, c.Observer.SessionBuffer)
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive, got %v", ErrInvalid, c.Heartbeat.Interval.Std())
	}
	if c.Heartbeat.Jitter < 0 || c.Heartbeat.Jitter.Std() > c.Heartbeat.Interval.Std()/2 {
		return fmt.Errorf("%w: heartbeat jitter must be within half the interval, got %v", ErrInvalid, c.Heartbeat.Jitter.Std())
	}
	if c.Heartbeat.Timeout.Std() < c.Heartbeat.Interval.Std() {
		return fmt.Errorf("%w: heartbeat timeout %v must be >= interval %v", ErrInvalid, c.Heartbeat.Timeout.Std(), c.Heartbeat.Interval.Std())
	}
	for _, tenantID := range c.Tenants {
		if err := topic.ValidateTenantID(tenantID); err != nil {
			return fmt.Errorf("%w: tenant %q: %v", ErrInvalid, tenantID, err)
		}
	}
	if c.Auth.Enabled {
		switch c.Auth.Algorithm {
		case "HS256":
			if c.Auth.SecretKey == "" {
				return fmt.Errorf("%w: auth enabled with HS256 but no secret key", ErrInvalid)
			}
		case "RS256":
			if c.Auth.PublicKeyPEM == "" {
				return fmt.Errorf("%w: auth enabled with RS256 but no public key", ErrInvalid)
			}
		default:
			return fmt.Errorf("%w: unknown auth algorithm %q", ErrInvalid, c.Auth.Algorithm)
		}
	}
	return nil
}
