// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs/sysfs"
)

const defaultSysfsPath = "/sys"

// RaplPlugin reads Intel RAPL energy counters through the Linux powercap
// sysfs interface. The package zone is reported as the primary figure;
// every zone appears in the measurement breakdown keyed by
// "<name>-<index>".
type RaplPlugin struct {
	logger    *slog.Logger
	sysfsPath string

	mu    sync.Mutex
	fs    sysfs.FS
	zones []sysfs.RaplZone
}

var _ HardwarePlugin = (*RaplPlugin)(nil)

// RaplOptFn is a functional option for configuring a RaplPlugin.
type RaplOptFn func(*RaplPlugin)

// WithRaplSysfsPath overrides the sysfs mount point, mainly for tests.
func WithRaplSysfsPath(path string) RaplOptFn {
	return func(p *RaplPlugin) {
		p.sysfsPath = path
	}
}

// WithRaplLogger sets the logger for the RaplPlugin.
func WithRaplLogger(logger *slog.Logger) RaplOptFn {
	return func(p *RaplPlugin) {
		p.logger = logger.With("plugin", "rapl")
	}
}

// NewRaplPlugin creates a RAPL plugin reading from /sys by default.
func NewRaplPlugin(opts ...RaplOptFn) *RaplPlugin {
	p := &RaplPlugin{
		logger:    slog.Default().With("plugin", "rapl"),
		sysfsPath: defaultSysfsPath,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RaplPlugin) Name() string {
	return "rapl"
}

// Available reports whether powercap RAPL zones can be enumerated.
func (p *RaplPlugin) Available() bool {
	fs, err := sysfs.NewFS(p.sysfsPath)
	if err != nil {
		return false
	}
	zones, err := sysfs.GetRaplZones(fs)
	return err == nil && len(zones) > 0
}

// Init enumerates the RAPL zones and verifies the first one is readable.
func (p *RaplPlugin) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fs, err := sysfs.NewFS(p.sysfsPath)
	if err != nil {
		return fmt.Errorf("failed to open sysfs at %s: %w", p.sysfsPath, err)
	}

	zones, err := sysfs.GetRaplZones(fs)
	if err != nil {
		return fmt.Errorf("failed to read RAPL zones: %w", err)
	}
	if len(zones) == 0 {
		return fmt.Errorf("no RAPL zones found")
	}

	if _, err := zones[0].GetEnergyMicrojoules(); err != nil {
		return fmt.Errorf("failed to read energy from zone %s: %w", zones[0].Name, err)
	}

	p.fs = fs
	p.zones = zones
	p.logger.Debug("Enumerated RAPL zones", "count", len(zones))

	return nil
}

func (p *RaplPlugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zones = nil
	return nil
}

// GetMeasurement reads every zone once. Zones that fail to read are
// skipped; the measurement fails only when no zone is readable.
func (p *RaplPlugin) GetMeasurement() (*Measurement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.zones) == 0 {
		return nil, fmt.Errorf("rapl plugin not initialized")
	}

	breakdown := make(map[string]float64, len(p.zones))
	packageJoules := 0.0
	totalJoules := 0.0
	readable := 0

	for _, zone := range p.zones {
		uj, err := zone.GetEnergyMicrojoules()
		if err != nil {
			p.logger.Warn("Failed to read RAPL zone", "zone", zone.Name, "error", err)
			continue
		}
		readable++

		joules := float64(uj) / 1e6
		breakdown[fmt.Sprintf("%s-%d", zone.Name, zone.Index)] = joules
		totalJoules += joules
		// the name file reads "package" on single-socket systems and
		// "package-N" on multi-socket ones
		if strings.HasPrefix(zone.Name, "package") {
			packageJoules += joules
		}
	}

	if readable == 0 {
		return nil, fmt.Errorf("no readable RAPL zones")
	}

	// Package subsumes the other zones; fall back to the raw sum only on
	// systems without a package zone.
	joules := packageJoules
	if joules == 0 {
		joules = totalJoules
	}

	return &Measurement{
		Source:    p.Name(),
		Joules:    joules,
		Timestamp: time.Now(),
		Breakdown: breakdown,
	}, nil
}
