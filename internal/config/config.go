// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
)

// DefaultListenAddress is the default address the API server binds to.
const DefaultListenAddress = ":9400"

type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	Monitor struct {
		// Interval between counter collection rounds.
		Interval time.Duration `yaml:"interval"`
	}

	Stdout struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	}

	Prometheus struct {
		Enabled bool `yaml:"enabled"`
	}

	Exporter struct {
		Stdout     Stdout     `yaml:"stdout"`
		Prometheus Prometheus `yaml:"prometheus"`
	}

	Web struct {
		ListenAddresses []string `yaml:"listenAddresses"`
		ConfigFile      string   `yaml:"configFile"`
	}

	Plugins struct {
		Dummy bool `yaml:"dummy"`
		Rapl  bool `yaml:"rapl"`
		Nvml  bool `yaml:"nvml"`
		// SysfsPath is the sysfs mount point the RAPL plugin reads from.
		SysfsPath string `yaml:"sysfsPath"`
	}

	// Config represents the complete application configuration.
	Config struct {
		Log      Log      `yaml:"log"`
		Monitor  Monitor  `yaml:"monitor"`
		Exporter Exporter `yaml:"exporter"`
		Web      Web      `yaml:"web"`
		Plugins  Plugins  `yaml:"plugins"`
	}
)

// Flag names
const (
	LogLevelFlag        = "log.level"
	LogFormatFlag       = "log.format"
	MonitorIntervalFlag = "monitor.interval"
	StdoutExporterFlag  = "exporter.stdout"
	WebListenFlag       = "web.listen-address"
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Monitor: Monitor{
			Interval: 5 * time.Second,
		},
		Exporter: Exporter{
			Stdout: Stdout{
				Enabled:  false,
				Interval: 2 * time.Second,
			},
			Prometheus: Prometheus{
				Enabled: true,
			},
		},
		Web: Web{
			ListenAddresses: []string{DefaultListenAddress},
		},
		Plugins: Plugins{
			Dummy:     false,
			Rapl:      true,
			Nvml:      true,
			SysfsPath: "/sys",
		},
	}
}

// Load loads configuration from an io.Reader, layered over the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file.
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

type UpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with the kingpin app and
// returns an UpdaterFn that applies parsed flags over a config; flags that
// were set explicitly override config-file settings.
func RegisterFlags(app *kingpin.Application) UpdaterFn {
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}
		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	monitorInterval := app.Flag(MonitorIntervalFlag, "Interval between counter collection rounds").Default("5s").Duration()
	stdoutExporter := app.Flag(StdoutExporterFlag, "Enable the stdout exporter").Default("false").Bool()
	webListen := app.Flag(WebListenFlag, "Address on which to serve the API and metrics").Default(DefaultListenAddress).Strings()

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}
		if flagsSet[MonitorIntervalFlag] {
			cfg.Monitor.Interval = *monitorInterval
		}
		if flagsSet[StdoutExporterFlag] {
			cfg.Exporter.Stdout.Enabled = *stdoutExporter
		}
		if flagsSet[WebListenFlag] {
			cfg.Web.ListenAddresses = *webListen
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Plugins.SysfsPath = strings.TrimSpace(c.Plugins.SysfsPath)
}

// Validate checks for configuration errors.
func (c *Config) Validate() error {
	var errs []string

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
	}

	if c.Monitor.Interval < 0 {
		errs = append(errs, fmt.Sprintf("invalid monitor interval: %s", c.Monitor.Interval))
	}

	if c.Exporter.Stdout.Enabled && c.Exporter.Stdout.Interval <= 0 {
		errs = append(errs, fmt.Sprintf("invalid stdout exporter interval: %s", c.Exporter.Stdout.Interval))
	}

	if len(c.Web.ListenAddresses) == 0 {
		errs = append(errs, "no web listen address")
	}

	if c.Plugins.Rapl && c.Plugins.SysfsPath == "" {
		errs = append(errs, "rapl plugin enabled with empty sysfs path")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err != nil {
		// should not happen; fall back to the flag-style dump
		return c.manualString()
	}
	return string(bytes)
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{MonitorIntervalFlag, c.Monitor.Interval.String()},
		{StdoutExporterFlag, fmt.Sprintf("%t", c.Exporter.Stdout.Enabled)},
		{WebListenFlag, strings.Join(c.Web.ListenAddresses, ",")},
	}

	sb := strings.Builder{}
	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}
	return sb.String()
}
