package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultsAreValid(t *testing.T) {
	assert.NoError(t, Defaults().Validate())
}

func TestLoadMissingFileIsOptional(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "tracker", cfg.DomainPrefix)
	assert.Equal(t, "json", cfg.Encoding)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
domain_prefix: plant7
tenants: [teamA, teamB]
shaping:
  dead_zone: 2.5
  min_publish_interval: 250ms
motion:
  step_size: 1.5
  step_delay: 10ms
mqtt:
  broker_url: tcp://broker:1883
  qos: 1
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "plant7", cfg.DomainPrefix)
	assert.Equal(t, []string{"teamA", "teamB"}, cfg.Tenants)
	assert.Equal(t, 2.5, cfg.Shaping.DeadZone)
	assert.Equal(t, 250*time.Millisecond, cfg.Shaping.MinPublishInterval.Std())
	assert.Equal(t, 1.5, cfg.Motion.StepSize)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.BrokerURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TCC_SHAPING_DEAD_ZONE", "9")
	t.Setenv("TCC_SHAPING_MIN_PUBLISH_INTERVAL", "1s")
	t.Setenv("TCC_TENANTS", "teamA,teamB")
	t.Setenv("TCC_MQTT_BROKER_URL", "tcp://env:1883")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9.0, cfg.Shaping.DeadZone)
	assert.Equal(t, time.Second, cfg.Shaping.MinPublishInterval.Std())
	assert.Equal(t, []string{"teamA", "teamB"}, cfg.Tenants)
	assert.Equal(t, "tcp://env:1883", cfg.MQTT.BrokerURL)
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shaping: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad encoding", func(c *Config) { c.Encoding = "xml" }},
		{"qos out of range", func(c *Config) { c.MQTT.QoS = 3 }},
		{"negative dead zone", func(c *Config) { c.Shaping.DeadZone = -1 }},
		{"zero publish interval", func(c *Config) { c.Shaping.MinPublishInterval = 0 }},
		{"zero queue", func(c *Config) { c.Shaping.QueueSize = 0 }},
		{"zero step size", func(c *Config) { c.Motion.StepSize = 0 }},
		{"negative step size", func(c *Config) { c.Motion.StepSize = -2 }},
		{"zero session buffer", func(c *Config) { c.Observer.SessionBuffer = 0 }},
		{"zero heartbeat interval", func(c *Config) { c.Heartbeat.Interval = 0 }},
		{"excessive jitter", func(c *Config) { c.Heartbeat.Jitter = c.Heartbeat.Interval }},
		{"timeout below interval", func(c *Config) { c.Heartbeat.Timeout = c.Heartbeat.Interval / 2 }},
		{"invalid tenant", func(c *Config) { c.Tenants = []string{"team/A"} }},
		{"auth enabled without secret", func(c *Config) { c.Auth.Enabled = true }},
		{"auth unknown algorithm", func(c *Config) { c.Auth.Enabled = true; c.Auth.Algorithm = "none" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestDurationYAML(t *testing.T) {
	var out struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 1500ms"), &out))
	assert.Equal(t, 1500*time.Millisecond, out.D.Std())

	assert.Error(t, yaml.Unmarshal([]byte("d: soon"), &out))
}
