// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"time"

	"github.com/jouletrack/jouletrack/internal/service"
)

// Service is the interface the monitor exposes to exporters.
type Service interface {
	service.Service
	Snapshot() (*Snapshot, error)
}

// CounterUsage is the exported state of one managed counter.
type CounterUsage struct {
	ID          string
	Name        string
	Domain      string
	Joules      float64
	Accumulated uint64
	Wraparounds uint32
}

// DomainUsage is the exported state of one RAPL energy domain.
type DomainUsage struct {
	Domain string
	Joules float64
}

// Snapshot is a consistent, immutable view of all counters at one point in
// time. Exporters must treat it as read-only.
type Snapshot struct {
	Timestamp time.Time

	// Counters are the per-plugin energy counters, sorted by id.
	Counters []CounterUsage

	// Domains are the RAPL domain counters, present only when a RAPL
	// source is trusted. Sorted by domain name.
	Domains []DomainUsage

	// TotalJoules sums all active plugin counters.
	TotalJoules float64

	// PackageJoules is the overlap-aware RAPL package total, 0 without a
	// RAPL source.
	PackageJoules float64

	// ActiveCounters counts the active, initialized plugin counters.
	ActiveCounters int
}
