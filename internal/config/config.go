package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"

	"github.com/daemonp/aap2mqtt/internal/log"
	"github.com/daemonp/aap2mqtt/internal/util"
)

const envPrefix = "AAP2MQTT_"

type Config struct {
	Panel         PanelConfig         `yaml:"panel"         envPrefix:"PANEL_"`
	MQTT          MQTTConfig          `yaml:"mqtt"          envPrefix:"MQTT_"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant" envPrefix:"HOMEASSISTANT_"`
	Metrics       MetricsConfig       `yaml:"metrics"       envPrefix:"METRICS_"`
	Zones         []ZoneConfig        `yaml:"zones"`
	Outputs       []OutputConfig      `yaml:"outputs"`
	Log           string              `yaml:"log"           env:"LOG"`
}

type PanelConfig struct {
	Host           string          `yaml:"host"            env:"HOST"`
	Port           int             `yaml:"port"            env:"PORT"`
	ConnectTimeout time.Duration   `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	StopTimeout    time.Duration   `yaml:"stop_timeout"    env:"STOP_TIMEOUT"`
	Reconnect      ReconnectConfig `yaml:"reconnect"       envPrefix:"RECONNECT_"`
}

type ReconnectConfig struct {
	Enabled         *bool         `yaml:"enabled"          env:"ENABLED"`
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval"     env:"MAX_INTERVAL"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" env:"MAX_ELAPSED_TIME"`
}

// IsEnabled defaults to true when the key is absent.
func (r ReconnectConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

type MQTTConfig struct {
	Enabled   *bool  `yaml:"enabled"   env:"ENABLED"`
	ClientID  string `yaml:"client_id" env:"CLIENT_ID"`
	Host      string `yaml:"host"      env:"HOST"`
	Port      int    `yaml:"port"      env:"PORT"`
	Keepalive int    `yaml:"keepalive" env:"KEEPALIVE"`
	Username  string `yaml:"username"  env:"USERNAME"`
	Password  string `yaml:"password"  env:"PASSWORD"`
	QOS       int    `yaml:"qos"       env:"QOS"`
	Retain    bool   `yaml:"retain"    env:"RETAIN"`
	Prefix    string `yaml:"prefix"    env:"PREFIX"`
	Clean     bool   `yaml:"clean"     env:"CLEAN"`
}

func (m MQTTConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type HomeAssistantConfig struct {
	Discovery bool   `yaml:"discovery" env:"DISCOVERY"`
	Prefix    string `yaml:"prefix"    env:"PREFIX"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Listen  string `yaml:"listen"  env:"LISTEN"`
}

type ZoneConfig struct {
	Name        string `yaml:"name"`
	Zone        int    `yaml:"zone"`
	DeviceClass string `yaml:"device_class"`
}

type OutputConfig struct {
	Name   string `yaml:"name"`
	Output int    `yaml:"output"`
}

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies AAP2MQTT_* environment overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	return ParseWith(data, nil)
}

// ParseWith is Parse with a hook that runs after the environment is applied
// and before defaults, so command line flags take precedence over both.
func ParseWith(data []byte, override func(*Config)) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}

	if override != nil {
		override(&config)
	}
	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Panel.Port == 0 {
		c.Panel.Port = 5000
	}
	if c.Panel.ConnectTimeout == 0 {
		c.Panel.ConnectTimeout = 10 * time.Second
	}
	if c.Panel.StopTimeout == 0 {
		c.Panel.StopTimeout = 5 * time.Second
	}
	if c.Panel.Reconnect.InitialInterval == 0 {
		c.Panel.Reconnect.InitialInterval = time.Second
	}
	if c.Panel.Reconnect.MaxInterval == 0 {
		c.Panel.Reconnect.MaxInterval = time.Minute
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "aap2mqtt"
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.Keepalive == 0 {
		c.MQTT.Keepalive = 60
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "aap2mqtt"
	}
	if c.HomeAssistant.Prefix == "" {
		c.HomeAssistant.Prefix = "homeassistant"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9120"
	}
	if c.Log == "" {
		c.Log = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Panel.Host) == "" {
		errs = append(errs, errors.New("panel.host is required"))
	}
	if c.Panel.Port < 1 || c.Panel.Port > 65535 {
		errs = append(errs, fmt.Errorf("panel.port %d is out of range", c.Panel.Port))
	}
	if c.MQTT.QOS < 0 || c.MQTT.QOS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QOS))
	}

	zones := map[int]bool{}
	for _, z := range c.Zones {
		if z.Zone < 1 {
			errs = append(errs, fmt.Errorf("zone %q: id must be positive, got %d", z.Name, z.Zone))
			continue
		}
		if zones[z.Zone] {
			errs = append(errs, fmt.Errorf("zone %d is declared more than once", z.Zone))
		}
		zones[z.Zone] = true
	}

	outputs := map[int]bool{}
	for _, o := range c.Outputs {
		if o.Output < 1 {
			errs = append(errs, fmt.Errorf("output %q: id must be positive, got %d", o.Name, o.Output))
			continue
		}
		if outputs[o.Output] {
			errs = append(errs, fmt.Errorf("output %d is declared more than once", o.Output))
		}
		outputs[o.Output] = true
	}

	if !util.Contains(log.Levels, strings.ToLower(c.Log)) {
		errs = append(errs, fmt.Errorf("log must be %s, got %q", util.JoinWithOr(log.Levels), c.Log))
	}

	return errors.Join(errs...)
}

// ZoneName returns the configured label for zone, or "Zone <n>".
func (c *Config) ZoneName(zone int) string {
	for _, z := range c.Zones {
		if z.Zone == zone && z.Name != "" {
			return z.Name
		}
	}
	return fmt.Sprintf("Zone %d", zone)
}

func (c *Config) OutputName(output int) string {
	for _, o := range c.Outputs {
		if o.Output == output && o.Name != "" {
			return o.Name
		}
	}
	return fmt.Sprintf("Output %d", output)
}
