// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package hal

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Consistency limits used by ValidateConsistency. Exceeding them does not
// fail anything; it flags a counter for operator attention.
const (
	maxPlausibleWraparounds  = 1000
	maxPlausibleEnergyJoules = 1000.0
)

var counterIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CounterConfig describes one managed counter. Everything except Active is
// immutable after registration.
type CounterConfig struct {
	// Name is the human-readable counter name.
	Name string
	// Domain labels the power domain the counter belongs to.
	Domain string
	// BitWidth is the hardware counter width (32 or 64).
	BitWidth uint32
	// MaxValue is the inclusive upper bound before wraparound.
	MaxValue uint64
	// ConversionFactor converts accumulated raw units to joules.
	ConversionFactor float64
	// Unit is the raw counter unit, e.g. "uJ".
	Unit string
	// Active controls whether the counter participates in updates and
	// reporting.
	Active bool
}

// managedCounter pairs a config with its owned counter and tracks whether
// the counter has received its first reading.
type managedCounter struct {
	config      CounterConfig
	counter     *WraparoundCounter
	initialized bool
}

// CounterManager owns a named set of wraparound counters sharing one
// physical-unit model. All counters in a manager are updated as a single
// atomic batch: one manager-wide lock is held for the duration of every
// public operation, so no reader can observe a partially-applied update.
//
// Call frequency is bounded by hardware sampling rates, so strict
// serialization is preferred over a read/write split.
type CounterManager struct {
	logger *slog.Logger

	mu       sync.Mutex
	counters map[string]*managedCounter
}

// ManagerOptionFn is a function that sets an option on a CounterManager.
type ManagerOptionFn func(*CounterManager)

// WithManagerLogger sets the logger for the CounterManager.
func WithManagerLogger(logger *slog.Logger) ManagerOptionFn {
	return func(m *CounterManager) {
		m.logger = logger.With("service", "counter-manager")
	}
}

// NewCounterManager creates an empty CounterManager.
func NewCounterManager(opts ...ManagerOptionFn) *CounterManager {
	m := &CounterManager{
		logger:   slog.Default().With("service", "counter-manager"),
		counters: map[string]*managedCounter{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterCounter adds a new counter under id. It returns false, without
// mutating anything, if the id is empty, contains characters outside
// [A-Za-z0-9_-], or is already registered. The new counter starts
// uninitialized.
func (m *CounterManager) RegisterCounter(id string, config CounterConfig) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !counterIDPattern.MatchString(id) {
		m.logger.Error("Invalid counter id", "id", id)
		return false
	}

	if _, exists := m.counters[id]; exists {
		m.logger.Error("Counter already registered", "id", id)
		return false
	}

	m.counters[id] = &managedCounter{
		config:  config,
		counter: NewWraparoundCounter(config.MaxValue, config.Name),
	}

	m.logger.Debug("Registered counter", "id", id, "domain", config.Domain)
	return true
}

// InitializeCounters baselines every registered counter that has an entry
// in initialValues. Counters without an initial value are left
// uninitialized and make the call report false; partial initialization
// persists. The return value is a diagnostic signal, not a rollback.
func (m *CounterManager) InitializeCounters(initialValues map[string]uint64, ts time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	allInitialized := true
	for id, mc := range m.counters {
		raw, ok := initialValues[id]
		if !ok {
			m.logger.Warn("Missing initial value for counter", "id", id)
			allInitialized = false
			continue
		}
		mc.counter.Initialize(raw, ts)
		mc.initialized = true
	}

	return allInitialized
}

// UpdateCounters feeds a batch of raw readings, all captured at ts, to the
// active counters and returns the resulting accumulated values keyed by
// counter id. Active counters missing from rawValues are logged and
// skipped; partial updates are expected when a backend intermittently
// fails to report one domain. The whole batch happens in one critical
// section.
func (m *CounterManager) UpdateCounters(rawValues map[string]uint64, ts time.Time) map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	accumulated := make(map[string]uint64, len(rawValues))
	for id, mc := range m.counters {
		if !mc.config.Active {
			continue
		}

		raw, ok := rawValues[id]
		if !ok {
			m.logger.Warn("Missing raw value for active counter", "id", id)
			continue
		}

		accumulated[id] = mc.counter.Update(raw, ts)
		mc.initialized = true
	}

	return accumulated
}

// AccumulatedValues returns the accumulated raw totals of all active,
// initialized counters.
func (m *CounterManager) AccumulatedValues() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	values := map[string]uint64{}
	for id, mc := range m.counters {
		if mc.config.Active && mc.initialized {
			values[id] = mc.counter.Accumulated()
		}
	}
	return values
}

// EnergyJoules returns the accumulated energy of one counter converted to
// joules. Unknown, inactive and uninitialized counters contribute 0.
func (m *CounterManager) EnergyJoules(id string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.energyJoulesLocked(id)
}

func (m *CounterManager) energyJoulesLocked(id string) float64 {
	mc, ok := m.counters[id]
	if !ok || !mc.initialized || !mc.config.Active {
		return 0
	}
	return float64(mc.counter.Accumulated()) * mc.config.ConversionFactor
}

// TotalEnergyJoules sums the converted energy of all active, initialized
// counters. Domains that overlap physically (package vs. cores) are summed
// as-is; callers needing overlap-aware totals use DomainCounterManager.
func (m *CounterManager) TotalEnergyJoules() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0.0
	for id, mc := range m.counters {
		if mc.config.Active && mc.initialized {
			total += m.energyJoulesLocked(id)
		}
	}
	return total
}

// CounterStatistics returns the statistics snapshot of one counter. The
// second return value reports whether the counter is registered.
func (m *CounterManager) CounterStatistics(id string) (Statistics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.counters[id]
	if !ok {
		return Statistics{}, false
	}
	return mc.counter.Statistics(), true
}

// Configs returns a copy of all counter configurations keyed by id.
func (m *CounterManager) Configs() map[string]CounterConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	configs := make(map[string]CounterConfig, len(m.counters))
	for id, mc := range m.counters {
		configs[id] = mc.config
	}
	return configs
}

// ResetAllCounters zeroes every counter and clears its initialized flag.
// Registrations and configs are kept.
func (m *CounterManager) ResetAllCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, mc := range m.counters {
		mc.counter.Reset()
		mc.initialized = false
		m.logger.Debug("Reset counter", "id", id)
	}
}

// SetCounterActive toggles a counter's participation in updates and
// reporting without touching its accumulated history.
func (m *CounterManager) SetCounterActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.counters[id]
	if !ok {
		return
	}
	mc.config.Active = active
	m.logger.Debug("Changed counter active state", "id", id, "active", active)
}

// ValidateConsistency sweeps all active, initialized counters and warns
// about implausible state: a wraparound count above 1000 suggests the
// wrap heuristic is misclassifying a noisy signal, and energy above
// 1000 J suggests a conversion-factor or hardware fault. This is an
// observability hook, not a correctness gate; it always returns true.
func (m *CounterManager) ValidateConsistency() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, mc := range m.counters {
		if !mc.config.Active || !mc.initialized {
			continue
		}

		stats := mc.counter.Statistics()
		if stats.Wraparounds > maxPlausibleWraparounds {
			m.logger.Warn("Counter has excessive wraparounds",
				"id", id,
				"wraparounds", stats.Wraparounds)
		}

		energy := float64(stats.Accumulated) * mc.config.ConversionFactor
		if energy > maxPlausibleEnergyJoules {
			m.logger.Warn("Counter reports excessive energy",
				"id", id,
				"joules", energy)
		}
	}

	return true
}

// Summary produces a deterministic human-readable report of all counters:
// per-counter name, domain, active/initialized state, accumulated raw
// units, energy, wraparound count and last raw value, followed by the
// total energy and active-counter count. Counters are listed in id order.
func (m *CounterManager) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.counters))
	for id := range m.counters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("Counter Manager Summary:\n")
	sb.WriteString("========================\n")

	totalEnergy := 0.0
	activeCounters := 0

	yesNo := func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	}

	for _, id := range ids {
		mc := m.counters[id]
		fmt.Fprintf(&sb, "Counter: %s\n", id)
		fmt.Fprintf(&sb, "  Name: %s\n", mc.config.Name)
		fmt.Fprintf(&sb, "  Domain: %s\n", mc.config.Domain)
		fmt.Fprintf(&sb, "  Active: %s\n", yesNo(mc.config.Active))
		fmt.Fprintf(&sb, "  Initialized: %s\n", yesNo(mc.initialized))

		if mc.config.Active && mc.initialized {
			stats := mc.counter.Statistics()
			energy := float64(stats.Accumulated) * mc.config.ConversionFactor

			fmt.Fprintf(&sb, "  Accumulated: %d raw units\n", stats.Accumulated)
			fmt.Fprintf(&sb, "  Energy: %.6f J\n", energy)
			fmt.Fprintf(&sb, "  Wraparounds: %d\n", stats.Wraparounds)
			fmt.Fprintf(&sb, "  Last Raw: %d\n", stats.LastRaw)

			totalEnergy += energy
			activeCounters++
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Total Energy: %.6f J\n", totalEnergy)
	fmt.Fprintf(&sb, "Active Counters: %d\n", activeCounters)

	return sb.String()
}
