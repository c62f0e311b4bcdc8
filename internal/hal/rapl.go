// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package hal

import (
	"math"
	"time"
)

// Domain identifies a RAPL energy domain: a physically distinct power rail
// with its own energy register. The values double as bit positions in the
// availability mask reported by the hardware backend.
type Domain int

const (
	// DomainPackage covers the entire processor package.
	DomainPackage Domain = iota
	// DomainCores is power plane 0, the processor cores.
	DomainCores
	// DomainUncore is power plane 1, uncore and integrated graphics.
	DomainUncore
	// DomainDRAM is the DRAM subsystem.
	DomainDRAM
	// DomainPlatform is the whole-platform PSys domain (Skylake and later).
	DomainPlatform
)

// raplDomains lists all domains in registration order.
var raplDomains = []Domain{DomainPackage, DomainCores, DomainUncore, DomainDRAM, DomainPlatform}

// String returns the human-readable domain name.
func (d Domain) String() string {
	switch d {
	case DomainPackage:
		return "Package"
	case DomainCores:
		return "PP0 (Cores)"
	case DomainUncore:
		return "PP1 (Uncore)"
	case DomainDRAM:
		return "DRAM"
	case DomainPlatform:
		return "Platform"
	default:
		return "Unknown"
	}
}

// CounterID returns the counter id the domain maps to.
func (d Domain) CounterID() string {
	switch d {
	case DomainPackage:
		return "rapl_package"
	case DomainCores:
		return "rapl_pp0"
	case DomainUncore:
		return "rapl_pp1"
	case DomainDRAM:
		return "rapl_dram"
	case DomainPlatform:
		return "rapl_psys"
	default:
		return "rapl_unknown"
	}
}

// DomainCounterManager maps the closed set of RAPL energy domains onto
// CounterManager entries. RAPL registers are 32-bit and wrap every few
// minutes under load; each available domain gets one 32-bit wraparound
// counter whose conversion factor is the hardware-reported energy unit.
type DomainCounterManager struct {
	*CounterManager

	energyUnit       float64
	availableDomains uint32
}

// NewDomainCounterManager creates a DomainCounterManager around a fresh
// CounterManager. Call InitDomains before feeding readings.
func NewDomainCounterManager(opts ...ManagerOptionFn) *DomainCounterManager {
	return &DomainCounterManager{
		CounterManager: NewCounterManager(opts...),
	}
}

// InitDomains registers one counter per bit set in availableDomains.
// energyUnit is the joules-per-raw-unit factor from the hardware
// (MSR_RAPL_POWER_UNIT, typically 15.3 µJ). Registration continues past
// individual failures; the return value reports whether every available
// domain registered.
func (m *DomainCounterManager) InitDomains(energyUnit float64, availableDomains uint32) bool {
	m.energyUnit = energyUnit
	m.availableDomains = availableDomains

	m.logger.Debug("Initializing RAPL domain counters",
		"energy_unit_uj", energyUnit*1e6,
		"available_domains", availableDomains)

	allRegistered := true
	for _, domain := range raplDomains {
		if !m.DomainAvailable(domain) {
			continue
		}

		config := CounterConfig{
			Name:             domain.String(),
			Domain:           domain.String(),
			BitWidth:         32,
			MaxValue:         math.MaxUint32,
			ConversionFactor: energyUnit,
			Unit:             "raw",
			Active:           true,
		}

		if !m.RegisterCounter(domain.CounterID(), config) {
			m.logger.Error("Failed to register RAPL domain", "domain", domain.String())
			allRegistered = false
		}
	}

	return allRegistered
}

// UpdateDomainReadings feeds raw register values, all captured at ts, into
// the domain counters and returns the resulting energy keyed by domain.
// Readings for unavailable domains are dropped.
func (m *DomainCounterManager) UpdateDomainReadings(readings map[Domain]uint64, ts time.Time) map[Domain]float64 {
	rawValues := make(map[string]uint64, len(readings))
	for domain, raw := range readings {
		if m.DomainAvailable(domain) {
			rawValues[domain.CounterID()] = raw
		}
	}

	m.UpdateCounters(rawValues, ts)

	energies := make(map[Domain]float64, len(rawValues))
	for domain := range readings {
		if m.DomainAvailable(domain) {
			energies[domain] = m.EnergyJoules(domain.CounterID())
		}
	}
	return energies
}

// DomainEnergy returns the accumulated energy of one domain in joules, or
// 0 if the domain is unavailable.
func (m *DomainCounterManager) DomainEnergy(domain Domain) float64 {
	if !m.DomainAvailable(domain) {
		return 0
	}
	return m.EnergyJoules(domain.CounterID())
}

// TotalPackageEnergy returns the best single figure for package energy.
// The Package domain already subsumes cores, uncore and DRAM on real
// hardware, so it is preferred alone; summing Cores+Uncore+DRAM is only a
// fallback when Package is unavailable. Double-counting is avoided by
// construction, not by measurement.
func (m *DomainCounterManager) TotalPackageEnergy() float64 {
	if m.DomainAvailable(DomainPackage) {
		return m.DomainEnergy(DomainPackage)
	}

	total := 0.0
	for _, domain := range []Domain{DomainCores, DomainUncore, DomainDRAM} {
		total += m.DomainEnergy(domain)
	}
	return total
}

// DomainAvailable reports whether the domain's bit is set in the
// availability mask.
func (m *DomainCounterManager) DomainAvailable(domain Domain) bool {
	return m.availableDomains&(1<<uint(domain)) != 0
}

// EnergyUnit returns the joules-per-raw-unit conversion factor the manager
// was initialized with.
func (m *DomainCounterManager) EnergyUnit() float64 {
	return m.energyUnit
}
