// Package config loads the twin-monitor configuration.
//
// Configuration comes from one YAML file layered over Default(). Command-line
// flags override file values in each binary's main; the only environment
// input is TWIN_API_TOKEN, the bearer credential.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/twin-monitor/internal/telemetry"
)

// TokenEnv names the environment variable holding the bearer credential.
const TokenEnv = "TWIN_API_TOKEN"

// Duration is a time.Duration written as a string ("2s", "350ms") in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the configuration for both binaries.
type Config struct {
	// Dashboard configures the reconciliation engine.
	Dashboard DashboardConfig `yaml:"dashboard"`

	// API configures the telemetry backend.
	API APIConfig `yaml:"api"`

	// MQTT configures the broker used for ingestion and event publishing.
	MQTT MQTTConfig `yaml:"mqtt"`

	// Assets seeds the backend's asset table.
	Assets []AssetConfig `yaml:"assets"`
}

// DashboardConfig configures the reconciliation engine.
type DashboardConfig struct {
	// APIBase is the telemetry API root URL.
	APIBase string `yaml:"api_base"`

	// Token is the bearer credential; TWIN_API_TOKEN overrides it.
	Token string `yaml:"token"`

	// HTTPAddr is where the dashboard serves viewers.
	HTTPAddr string `yaml:"http_addr"`

	// Asset is the key of the asset selected at startup; empty selects none.
	Asset string `yaml:"asset"`

	LivePeriod     Duration `yaml:"live_period"`
	HistoryPeriod  Duration `yaml:"history_period"`
	Debounce       Duration `yaml:"debounce"`
	AlarmCooldown  Duration `yaml:"alarm_cooldown"`
	RequestTimeout Duration `yaml:"request_timeout"`
	SeriesCapacity int      `yaml:"series_capacity"`

	// ChartAssetsHost serves the charting JavaScript; empty uses the
	// library's CDN default.
	ChartAssetsHost string `yaml:"chart_assets_host"`

	// PublishEvents sends trip and lifecycle events to MQTT.
	PublishEvents bool `yaml:"publish_events"`
}

// APIConfig configures the telemetry backend.
type APIConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	Database string `yaml:"database"`

	// Tokens are the accepted bearer credentials.
	Tokens []string `yaml:"tokens"`

	// Retention bounds how long measurements are kept; zero keeps them all.
	Retention Duration `yaml:"retention"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// AssetConfig seeds one asset with its MQTT topics and icon mappings.
type AssetConfig struct {
	telemetry.Asset `yaml:",inline"`

	Topics   []TopicConfig       `yaml:"topics"`
	Mappings []telemetry.Mapping `yaml:"mappings"`
}

// TopicConfig routes an MQTT topic to a readout label. A topic of the form
// "<topic>/<subkey>" labels a sub-key of a JSON payload on <topic>.
type TopicConfig struct {
	Topic string `yaml:"topic"`
	Label string `yaml:"label"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Dashboard: DashboardConfig{
			APIBase:        "http://localhost:8000",
			HTTPAddr:       ":8080",
			LivePeriod:     Duration(2 * time.Second),
			HistoryPeriod:  Duration(30 * time.Second),
			Debounce:       Duration(350 * time.Millisecond),
			AlarmCooldown:  Duration(10 * time.Second),
			RequestTimeout: Duration(5 * time.Second),
			SeriesCapacity: 240,
		},
		API: APIConfig{
			HTTPAddr: ":8000",
			Database: "twin.db",
		},
		MQTT: MQTTConfig{
			Broker: "tcp://localhost:1883",
		},
	}
}

// Load reads path over Default() and applies the environment. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if tok := os.Getenv(TokenEnv); tok != "" {
		c.Dashboard.Token = tok
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	d := c.Dashboard
	for name, v := range map[string]Duration{
		"dashboard.live_period":     d.LivePeriod,
		"dashboard.history_period":  d.HistoryPeriod,
		"dashboard.debounce":        d.Debounce,
		"dashboard.alarm_cooldown":  d.AlarmCooldown,
		"dashboard.request_timeout": d.RequestTimeout,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if d.SeriesCapacity <= 0 {
		errs = append(errs, fmt.Errorf("dashboard.series_capacity must be positive"))
	}
	if c.API.Retention < 0 {
		errs = append(errs, fmt.Errorf("api.retention must not be negative"))
	}

	ids := make(map[int]bool)
	keys := make(map[string]bool)
	for i, a := range c.Assets {
		if a.ID <= 0 {
			errs = append(errs, fmt.Errorf("assets[%d]: id must be positive", i))
		}
		if a.Key == "" {
			errs = append(errs, fmt.Errorf("assets[%d]: key is required", i))
		}
		if ids[a.ID] {
			errs = append(errs, fmt.Errorf("assets[%d]: duplicate id %d", i, a.ID))
		}
		if keys[a.Key] {
			errs = append(errs, fmt.Errorf("assets[%d]: duplicate key %q", i, a.Key))
		}
		ids[a.ID], keys[a.Key] = true, true
		for j, tc := range a.Topics {
			if tc.Topic == "" {
				errs = append(errs, fmt.Errorf("assets[%d].topics[%d]: topic is required", i, j))
			}
		}
	}

	return errors.Join(errs...)
}

// AssetByKey finds a configured asset.
func (c *Config) AssetByKey(key string) (AssetConfig, bool) {
	for _, a := range c.Assets {
		if a.Key == key {
			return a, true
		}
	}
	return AssetConfig{}, false
}
