// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package plugin defines the polymorphic sensor-source capability and a
// registry over it. Concrete backends (RAPL powercap, NVML, fakes) perform
// all hardware I/O; consumers only ever see Measurement values.
package plugin

import "time"

// Measurement is a single energy reading produced by a hardware backend.
type Measurement struct {
	// Source names the backend that produced the reading.
	Source string
	// Joules is the cumulative energy reported by the hardware.
	Joules float64
	// Watts is the instantaneous power draw, 0 if the backend cannot
	// report it.
	Watts float64
	// Temperature is in degrees Celsius, 0 if unreported.
	Temperature float64
	// Timestamp is when the reading was captured.
	Timestamp time.Time
	// Breakdown optionally splits Joules per component (RAPL zone, GPU
	// index). Nil when the backend has a single component.
	Breakdown map[string]float64
}

// HardwarePlugin is the capability every sensor backend exposes. The
// counter core never calls hardware APIs directly; it consumes this
// interface only.
type HardwarePlugin interface {
	// Name returns the backend name, e.g. "rapl" or "nvml".
	Name() string

	// Available reports whether the backend can be used on this system.
	// It must be callable before Init.
	Available() bool

	// Init prepares the backend for measurements.
	Init() error

	// Shutdown releases backend resources. Safe to call more than once.
	Shutdown() error

	// GetMeasurement captures one reading. A nil measurement with a nil
	// error signals a transient absence rather than a failure.
	GetMeasurement() (*Measurement, error)
}
