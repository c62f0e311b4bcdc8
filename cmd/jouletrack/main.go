// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/jouletrack/jouletrack/internal/config"
	"github.com/jouletrack/jouletrack/internal/exporter/prometheus"
	"github.com/jouletrack/jouletrack/internal/exporter/stdout"
	"github.com/jouletrack/jouletrack/internal/logger"
	"github.com/jouletrack/jouletrack/internal/monitor"
	"github.com/jouletrack/jouletrack/internal/plugin"
	"github.com/jouletrack/jouletrack/internal/server"
	"github.com/jouletrack/jouletrack/internal/service"
	"github.com/jouletrack/jouletrack/internal/version"
)

func main() {
	cfg, err := parseArgsAndConfig()
	if err != nil {
		os.Exit(1)
	}

	logger := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logVersionInfo(logger)
	printConfigInfo(logger, cfg)

	services := createServices(logger, cfg)

	if err := service.Init(logger, services); err != nil {
		logger.Error("Initialization failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting JouleTrack")
	if err := service.Run(ctx, logger, services); err != nil {
		logger.Error("JouleTrack terminated with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("Graceful shutdown completed")
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("JouleTrack version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig() (*config.Config, error) {
	const appName = "jouletrack"
	app := kingpin.New(appName, "Hardware energy counter monitoring exporter for Prometheus.")

	configFile := app.Flag("config.file", "Path to YAML configuration file").String()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logger.New("info", "text", os.Stderr)
	cfg := config.DefaultConfig()
	if *configFile != "" {
		logger.Info("Loading configuration file", "path", *configFile)
		loadedCfg, err := config.FromFile(*configFile)
		if err != nil {
			logger.Error("Error loading config file", "error", err.Error())
			return nil, err
		}
		cfg = loadedCfg
		logger.Info("Completed loading of configuration file", "path", *configFile)
	}

	// command line flags override config file settings
	if err := updateConfig(cfg); err != nil {
		logger.Error("Error applying command line flags", "error", err.Error())
		return nil, err
	}

	return cfg, nil
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Printf(`
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

func createServices(logger *slog.Logger, cfg *config.Config) []service.Service {
	logger.Debug("Creating all services")

	registry := plugin.NewRegistry(plugin.WithRegistryLogger(logger))
	if cfg.Plugins.Rapl {
		registry.Register(plugin.NewRaplPlugin(
			plugin.WithRaplLogger(logger),
			plugin.WithRaplSysfsPath(cfg.Plugins.SysfsPath),
		))
	}
	if cfg.Plugins.Nvml {
		registry.Register(plugin.NewNvmlPlugin(plugin.WithNvmlLogger(logger)))
	}
	if cfg.Plugins.Dummy {
		registry.Register(plugin.NewDummyPlugin(plugin.WithDummyLogger(logger)))
	}

	pm := monitor.NewPowerMonitor(registry,
		monitor.WithLogger(logger),
		monitor.WithInterval(cfg.Monitor.Interval),
	)
	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.ConfigFile),
	)

	services := []service.Service{pm, apiServer}

	if cfg.Exporter.Prometheus.Enabled {
		collectors := prometheus.CreateCollectors(pm, prometheus.WithLogger(logger))
		services = append(services, prometheus.NewExporter(pm, apiServer,
			prometheus.WithLogger(logger),
			prometheus.WithCollectors(collectors),
		))
	}
	if cfg.Exporter.Stdout.Enabled {
		services = append(services, stdout.NewExporter(pm,
			stdout.WithLogger(logger),
			stdout.WithInterval(cfg.Exporter.Stdout.Interval),
		))
	}

	return services
}
