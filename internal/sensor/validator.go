// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package sensor classifies hardware sensors as healthy, unstable or
// fundamentally broken before any of their readings are trusted by the
// counter layer.
package sensor

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"k8s.io/utils/clock"
)

const (
	// stabilityReadings is the fixed sample size of the stability test.
	stabilityReadings = 5

	// stabilityPause is the spacing between stability samples.
	stabilityPause = 10 * time.Millisecond

	// minSuccessfulReadings is the smallest number of successful samples
	// that still allows a sensor to be classified as usable.
	minSuccessfulReadings = 3

	// Implausibility ceilings. A single reading above either marks the
	// sensor as malfunctioning.
	maxPlausibleJoules = 1e12
	maxPlausibleWatts  = 1e9
)

// State is one sensor read: zero or more simultaneous measurements.
type State interface {
	NrMeasurements() int
	Joules(i int) float64
	Watts(i int) float64
}

// Sensor is the single-use read capability a validator consumes. The
// concrete implementation performs all hardware I/O.
type Sensor interface {
	Read() (State, error)
}

// Health is the outcome of one validation run. It is produced once and
// immutable thereafter.
type Health struct {
	Available          bool
	Stable             bool
	StatusMessage      string
	BaselineReading    float64
	Variance           float64
	SuccessfulReadings int
	TotalReadings      int
	ResponseTime       time.Duration
}

// Validator runs a bounded diagnostic protocol against one sensor:
// a basic functionality check followed by a fixed-size stability sampling.
// A sensor that fails either is fundamentally broken and must not be used;
// an unstable sensor is usable but carries a warning.
type Validator struct {
	name   string
	sensor Sensor
	clock  clock.Clock
	logger *slog.Logger

	lastErr string
	broken  bool
}

// OptionFn is a function that sets an option on a Validator.
type OptionFn func(*Validator)

// WithLogger sets the logger for the Validator.
func WithLogger(logger *slog.Logger) OptionFn {
	return func(v *Validator) {
		v.logger = logger.With("service", "sensor-validator", "sensor", v.name)
	}
}

// WithClock sets the clock used for sample pacing; tests inject a fake.
func WithClock(c clock.Clock) OptionFn {
	return func(v *Validator) {
		v.clock = c
	}
}

// NewValidator creates a validator for the named sensor. The name selects
// the stability threshold: register-based counters are expected to be much
// quieter than external meters on a shared bus.
func NewValidator(name string, s Sensor, opts ...OptionFn) *Validator {
	v := &Validator{
		name:   name,
		sensor: s,
		clock:  clock.RealClock{},
		logger: slog.Default().With("service", "sensor-validator", "sensor", name),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SensorName returns the name the validator was created with.
func (v *Validator) SensorName() string {
	return v.name
}

// Validate runs the diagnostic protocol and returns the resulting health
// record. A sensor that fails the basic functionality check or yields
// fewer than three stability samples is marked fundamentally broken and
// reported unavailable.
func (v *Validator) Validate() Health {
	health := Health{TotalReadings: stabilityReadings}

	if !v.checkBasicFunctionality() {
		health.StatusMessage = "sensor failed basic functionality test"
		v.broken = true
		v.logger.Warn("Sensor failed basic functionality test", "error", v.lastErr)
		return health
	}

	readings, responseTime := v.stabilityTest(stabilityReadings)
	if len(readings) < minSuccessfulReadings {
		health.StatusMessage = "sensor failed to provide consistent readings"
		v.broken = true
		v.logger.Warn("Sensor failed stability sampling",
			"successful_readings", len(readings),
			"error", v.lastErr)
		return health
	}

	health.SuccessfulReadings = len(readings)
	health.Available = true
	health.BaselineReading = readings[len(readings)-1]
	health.Variance = variance(readings)
	health.ResponseTime = responseTime

	threshold := stabilityThreshold(v.name)
	health.Stable = health.Variance < threshold

	if health.Stable {
		health.StatusMessage = "sensor operational and stable"
	} else {
		health.StatusMessage = fmt.Sprintf("sensor available but readings are unstable (variance: %.0f)", health.Variance)
		v.logger.Warn("Sensor readings are unstable",
			"variance", health.Variance,
			"threshold", threshold)
	}

	return health
}

// FundamentallyBroken reports whether the last Validate classified the
// sensor as terminally unusable. Callers must exclude broken sensors from
// future polling; retrying is not going to help.
func (v *Validator) FundamentallyBroken() bool {
	return v.broken
}

// ErrorDetails returns the most recent error text recorded during
// validation.
func (v *Validator) ErrorDetails() string {
	return v.lastErr
}

// checkBasicFunctionality verifies the sensor exists, a single read yields
// at least one measurement, and the values are physically plausible.
func (v *Validator) checkBasicFunctionality() bool {
	if v.sensor == nil {
		v.lastErr = "sensor is nil"
		return false
	}

	state, err := v.sensor.Read()
	if err != nil {
		v.lastErr = err.Error()
		return false
	}

	if state.NrMeasurements() == 0 {
		v.lastErr = "sensor returned no measurements"
		return false
	}

	joules := state.Joules(0)
	watts := state.Watts(0)

	if joules < 0 || watts < 0 {
		v.lastErr = fmt.Sprintf("sensor returned negative values (joules: %f, watts: %f)", joules, watts)
		return false
	}

	if joules > maxPlausibleJoules || watts > maxPlausibleWatts {
		v.lastErr = fmt.Sprintf("sensor returned implausibly high values (joules: %f, watts: %f)", joules, watts)
		return false
	}

	return true
}

// stabilityTest takes up to n readings, pausing between them, and stops
// early on the first read failure. It returns the successful joule samples
// and the duration of the last successful read.
func (v *Validator) stabilityTest(n int) ([]float64, time.Duration) {
	var readings []float64
	var responseTime time.Duration

	for i := 0; i < n; i++ {
		started := v.clock.Now()

		state, err := v.sensor.Read()
		if err != nil {
			v.lastErr = err.Error()
			break
		}

		if state.NrMeasurements() > 0 {
			readings = append(readings, state.Joules(0))
			responseTime = v.clock.Since(started)
		}

		if i < n-1 {
			v.clock.Sleep(stabilityPause)
		}
	}

	return readings, responseTime
}

// stabilityThreshold returns the variance threshold in joules for the
// sensor type. Register-based domain counters have low expected noise;
// GPU vendor SDKs somewhat more; external USB meters share a bus and an
// ADC with everything else.
func stabilityThreshold(name string) float64 {
	switch name {
	case "rapl":
		return 100.0
	case "nvml", "amdsmi":
		return 500.0
	case "powersensor2", "powersensor3":
		return 2000.0
	default:
		return 1000.0
	}
}

// variance computes the population variance (mean of squared deviations)
// of the readings.
func variance(readings []float64) float64 {
	if len(readings) < 2 {
		return 0
	}

	sum := 0.0
	for _, r := range readings {
		sum += r
	}
	mean := sum / float64(len(readings))

	v := 0.0
	for _, r := range readings {
		v += math.Pow(r-mean, 2)
	}
	return v / float64(len(readings))
}
