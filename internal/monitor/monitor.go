// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor wires validated hardware plugins into the counter layer:
// it vets every available plugin through the sensor validator, feeds raw
// readings into wraparound counters on a fixed cadence, and exposes atomic
// snapshots to exporters.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/jouletrack/jouletrack/internal/hal"
	"github.com/jouletrack/jouletrack/internal/plugin"
	"github.com/jouletrack/jouletrack/internal/sensor"
)

// microjoulesPerRaw converts the accumulated µJ raw units of plugin
// counters back to joules.
const microjoulesPerRaw = 1e-6

// raplZonePrefixes maps powercap zone name prefixes to RAPL domains. Zone
// names carry socket and index suffixes ("package-0", "core-1"), so the
// match is on prefix, not equality.
var raplZonePrefixes = []struct {
	prefix string
	domain hal.Domain
}{
	{"package", hal.DomainPackage},
	{"uncore", hal.DomainUncore},
	{"core", hal.DomainCores},
	{"dram", hal.DomainDRAM},
	{"psys", hal.DomainPlatform},
}

type Opts struct {
	logger   *slog.Logger
	interval time.Duration
	clock    clock.WithTicker
}

// DefaultOpts returns a new Opts with defaults set.
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		interval: 5 * time.Second,
		clock:    clock.RealClock{},
	}
}

// OptionFn is a function that sets an option in the Opts struct.
type OptionFn func(*Opts)

// WithLogger sets the logger for the PowerMonitor.
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithInterval sets the collection interval; 0 disables periodic
// collection.
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

// WithClock sets the clock for the PowerMonitor; tests inject a fake.
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// PowerMonitor owns the plugin registry and the counter managers. Init
// validates and baselines every available plugin; Run collects on a fixed
// cadence until the context is canceled.
type PowerMonitor struct {
	logger   *slog.Logger
	interval time.Duration
	clock    clock.WithTicker

	registry *plugin.Registry
	counters *hal.CounterManager
	domains  *hal.DomainCounterManager

	// trusted are the plugins that passed validation, keyed by counter id.
	trusted map[string]plugin.HardwarePlugin

	mu       sync.RWMutex
	snapshot *Snapshot
}

var _ Service = (*PowerMonitor)(nil)

// NewPowerMonitor creates a monitor over the given plugin registry.
func NewPowerMonitor(registry *plugin.Registry, applyOpts ...OptionFn) *PowerMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	logger := opts.logger.With("service", "monitor")

	return &PowerMonitor{
		logger:   logger,
		interval: opts.interval,
		clock:    opts.clock,
		registry: registry,
		counters: hal.NewCounterManager(hal.WithManagerLogger(logger)),
		domains:  hal.NewDomainCounterManager(hal.WithManagerLogger(logger)),
		trusted:  map[string]plugin.HardwarePlugin{},
	}
}

func (pm *PowerMonitor) Name() string {
	return "monitor"
}

// Init vets every available plugin, registers a counter per trusted
// plugin, discovers RAPL domains when a RAPL source is trusted, and
// baselines all counters with a first reading. Plugins classified as
// fundamentally broken are shut down and excluded from polling.
func (pm *PowerMonitor) Init() error {
	available := pm.registry.AvailablePlugins()
	if len(available) == 0 {
		return fmt.Errorf("no available hardware plugins")
	}

	for _, p := range available {
		if err := p.Init(); err != nil {
			pm.logger.Warn("Plugin failed to initialize", "plugin", p.Name(), "error", err)
			continue
		}

		validator := sensor.NewValidator(p.Name(), pluginSensor{p},
			sensor.WithClock(pm.clock),
			sensor.WithLogger(pm.logger))
		health := validator.Validate()

		if validator.FundamentallyBroken() {
			pm.logger.Warn("Excluding fundamentally broken sensor",
				"plugin", p.Name(),
				"details", validator.ErrorDetails())
			_ = p.Shutdown()
			continue
		}

		pm.logger.Info("Validated sensor",
			"plugin", p.Name(),
			"stable", health.Stable,
			"variance", health.Variance,
			"baseline_joules", health.BaselineReading,
			"status", health.StatusMessage)

		id := counterID(p.Name())
		registered := pm.counters.RegisterCounter(id, hal.CounterConfig{
			Name:             p.Name(),
			Domain:           p.Name(),
			BitWidth:         64,
			MaxValue:         math.MaxUint64,
			ConversionFactor: microjoulesPerRaw,
			Unit:             "uJ",
			Active:           true,
		})
		if !registered {
			pm.logger.Warn("Failed to register counter for plugin", "plugin", p.Name())
			_ = p.Shutdown()
			continue
		}

		pm.trusted[id] = p
	}

	if len(pm.trusted) == 0 {
		return fmt.Errorf("no plugin passed sensor validation")
	}

	pm.baseline(pm.clock.Now())
	return nil
}

// baseline takes one reading from every trusted plugin to initialize the
// counters, and discovers RAPL domains from the RAPL plugin's breakdown.
func (pm *PowerMonitor) baseline(now time.Time) {
	initial := make(map[string]uint64, len(pm.trusted))
	var raplBreakdown map[string]float64

	for id, p := range pm.trusted {
		m, err := p.GetMeasurement()
		if err != nil || m == nil {
			pm.logger.Warn("Plugin gave no baseline reading", "plugin", p.Name(), "error", err)
			continue
		}
		initial[id] = microjoules(m.Joules)
		if p.Name() == "rapl" {
			raplBreakdown = m.Breakdown
		}
	}

	if !pm.counters.InitializeCounters(initial, now) {
		pm.logger.Warn("Some counters are left uninitialized until their first reading")
	}

	if len(raplBreakdown) > 0 {
		mask := domainMask(raplBreakdown)
		if !pm.domains.InitDomains(microjoulesPerRaw, mask) {
			pm.logger.Warn("Some RAPL domains failed to register")
		}
		pm.domains.UpdateDomainReadings(domainReadings(raplBreakdown), now)
	}

	pm.refreshSnapshot(now)
}

// Run collects counter readings on every tick until ctx is canceled.
func (pm *PowerMonitor) Run(ctx context.Context) error {
	if pm.interval == 0 {
		pm.logger.Info("Periodic collection disabled")
		<-ctx.Done()
		return nil
	}

	ticker := pm.clock.NewTicker(pm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			pm.collect(pm.clock.Now())
		}
	}
}

// collect takes one reading from every trusted plugin and feeds the batch
// into the counter managers. A plugin failing to report is skipped; the
// rest of the batch still lands.
func (pm *PowerMonitor) collect(now time.Time) {
	raw := make(map[string]uint64, len(pm.trusted))
	var raplBreakdown map[string]float64

	for id, p := range pm.trusted {
		m, err := p.GetMeasurement()
		if err != nil {
			pm.logger.Warn("Plugin failed to report", "plugin", p.Name(), "error", err)
			continue
		}
		if m == nil {
			continue
		}

		raw[id] = microjoules(m.Joules)
		if p.Name() == "rapl" {
			raplBreakdown = m.Breakdown
		}
	}

	pm.counters.UpdateCounters(raw, now)
	if len(raplBreakdown) > 0 {
		pm.domains.UpdateDomainReadings(domainReadings(raplBreakdown), now)
	}

	pm.counters.ValidateConsistency()
	pm.refreshSnapshot(now)
}

// refreshSnapshot rebuilds the exported snapshot.
func (pm *PowerMonitor) refreshSnapshot(now time.Time) {
	snapshot := &Snapshot{Timestamp: now}

	for id := range pm.trusted {
		stats, ok := pm.counters.CounterStatistics(id)
		if !ok || !stats.Initialized {
			continue
		}
		cfg := pm.counters.Configs()[id]

		snapshot.Counters = append(snapshot.Counters, CounterUsage{
			ID:          id,
			Name:        cfg.Name,
			Domain:      cfg.Domain,
			Joules:      pm.counters.EnergyJoules(id),
			Accumulated: stats.Accumulated,
			Wraparounds: stats.Wraparounds,
		})
		snapshot.ActiveCounters++
	}
	sort.Slice(snapshot.Counters, func(i, j int) bool {
		return snapshot.Counters[i].ID < snapshot.Counters[j].ID
	})
	snapshot.TotalJoules = pm.counters.TotalEnergyJoules()

	for _, zp := range raplZonePrefixes {
		domain := zp.domain
		if !pm.domains.DomainAvailable(domain) {
			continue
		}
		snapshot.Domains = append(snapshot.Domains, DomainUsage{
			Domain: domain.String(),
			Joules: pm.domains.DomainEnergy(domain),
		})
	}
	sort.Slice(snapshot.Domains, func(i, j int) bool {
		return snapshot.Domains[i].Domain < snapshot.Domains[j].Domain
	})
	snapshot.PackageJoules = pm.domains.TotalPackageEnergy()

	pm.mu.Lock()
	pm.snapshot = snapshot
	pm.mu.Unlock()
}

// Snapshot returns the most recent collection result.
func (pm *PowerMonitor) Snapshot() (*Snapshot, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.snapshot == nil {
		return nil, fmt.Errorf("no snapshot collected yet")
	}
	return pm.snapshot, nil
}

// Summary returns the counter manager's human-readable report.
func (pm *PowerMonitor) Summary() string {
	return pm.counters.Summary()
}

// Shutdown stops all trusted plugins.
func (pm *PowerMonitor) Shutdown() error {
	var firstErr error
	for _, p := range pm.trusted {
		if err := p.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// microjoules converts a joule reading to integer microjoule raw units.
func microjoules(joules float64) uint64 {
	return uint64(joules * 1e6)
}

// counterID derives a valid counter id from a plugin name.
func counterID(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

// zoneDomain resolves a breakdown key ("package-0-0", "core-1") to its
// RAPL domain.
func zoneDomain(key string) (hal.Domain, bool) {
	for _, zp := range raplZonePrefixes {
		if strings.HasPrefix(key, zp.prefix) {
			return zp.domain, true
		}
	}
	return 0, false
}

// domainMask builds the availability bitmask from a RAPL breakdown.
func domainMask(breakdown map[string]float64) uint32 {
	var mask uint32
	for key := range breakdown {
		if domain, ok := zoneDomain(key); ok {
			mask |= 1 << uint(domain)
		}
	}
	return mask
}

// domainReadings converts a RAPL breakdown into per-domain raw µJ
// readings, summing zones across sockets.
func domainReadings(breakdown map[string]float64) map[hal.Domain]uint64 {
	readings := map[hal.Domain]uint64{}
	for key, joules := range breakdown {
		domain, ok := zoneDomain(key)
		if !ok {
			continue
		}
		readings[domain] += microjoules(joules)
	}
	return readings
}
