// Package config loads the rotoscope YAML configuration.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Server   ServerConfig   `yaml:"server"`
	Control  ControlConfig  `yaml:"control"`
	Storage  StorageConfig  `yaml:"storage"`
	Matching MatchingConfig `yaml:"matching"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Influx   InfluxConfig   `yaml:"influx"`
	Log      LogConfig      `yaml:"log"`
}

type SerialConfig struct {
	// Port is the device to open at startup; empty waits for /api/connect.
	Port     string `yaml:"port"`
	Baud     int    `yaml:"baud" default:"115200" validate:"gt=0"`
	Simulate bool   `yaml:"simulate"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr" default:":3000" validate:"required"`
	StaticDir string `yaml:"static_dir" default:"public"`
	// MediaDir confines slot media; references resolve inside it.
	MediaDir string `yaml:"media_dir" default:"media" validate:"required"`
}

// ControlConfig is the plain-text control port. Disabled when Addr is empty.
type ControlConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" default:"json" validate:"oneof=json sqlite"`
	Path   string `yaml:"path" default:"rotoscope-settings.json" validate:"required"`
}

// MatchingConfig sets the match window. A zero tolerance in the file is
// indistinguishable from an absent one and takes the default.
type MatchingConfig struct {
	Tolerance int `yaml:"tolerance" default:"5" validate:"gt=0"`
}

// MetricsConfig is opt-out: a zero bool cannot carry a "true" default.
type MetricsConfig struct {
	Disabled bool `yaml:"disabled"`
}

type InfluxConfig struct {
	URL    string `yaml:"url" default:"http://localhost:9999"`
	Org    string `yaml:"org" default:"rotoscope"`
	Bucket string `yaml:"bucket" default:"rotoscope.raw"`
	Token  string `yaml:"token"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Output string `yaml:"output" default:"stdout"`
	File   string `yaml:"file"`
}

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	cfg.overrideFromEnv()
	return &cfg, nil
}

// Load reads path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg, err := Default()
		if err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return &cfg, nil
}

func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ROTOSCOPE_SERIAL_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		c.Influx.Token = v
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}
