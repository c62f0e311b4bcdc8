// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package sensor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

// scriptedSensor replays a fixed sequence of readings, then repeats the
// last one.
type scriptedSensor struct {
	readings []reading
	calls    int
}

type reading struct {
	joules float64
	watts  float64
	err    error
	empty  bool
}

func (s *scriptedSensor) Read() (State, error) {
	i := s.calls
	if i >= len(s.readings) {
		i = len(s.readings) - 1
	}
	s.calls++

	r := s.readings[i]
	if r.err != nil {
		return nil, r.err
	}
	return scriptedState{r}, nil
}

type scriptedState struct {
	r reading
}

func (s scriptedState) NrMeasurements() int {
	if s.r.empty {
		return 0
	}
	return 1
}

func (s scriptedState) Joules(int) float64 { return s.r.joules }

func (s scriptedState) Watts(int) float64 { return s.r.watts }

func steadySensor(joules ...float64) *scriptedSensor {
	s := &scriptedSensor{}
	for _, j := range joules {
		s.readings = append(s.readings, reading{joules: j, watts: 50})
	}
	return s
}

func newFakeClock() *testingclock.FakeClock {
	return testingclock.NewFakeClock(time.Now())
}

func TestValidateStableSensor(t *testing.T) {
	// one extra leading reading is consumed by the basic check
	s := steadySensor(10.0, 10.0, 10.05, 9.98, 10.02, 10.0)
	v := NewValidator("rapl", s, WithClock(newFakeClock()))

	health := v.Validate()
	require.True(t, health.Available)
	assert.True(t, health.Stable)
	assert.False(t, v.FundamentallyBroken())
	assert.Equal(t, "sensor operational and stable", health.StatusMessage)
	assert.Equal(t, 5, health.SuccessfulReadings)
	assert.Equal(t, 5, health.TotalReadings)
	assert.InDelta(t, 10.0, health.BaselineReading, 1e-9)
	assert.InDelta(t, 0.00056, health.Variance, 1e-6)
}

func TestValidateNilSensor(t *testing.T) {
	v := NewValidator("rapl", nil, WithClock(newFakeClock()))

	health := v.Validate()
	assert.False(t, health.Available)
	assert.True(t, v.FundamentallyBroken())
	assert.Equal(t, "sensor failed basic functionality test", health.StatusMessage)
	assert.Equal(t, "sensor is nil", v.ErrorDetails())
}

func TestValidateBasicCheckFailures(t *testing.T) {
	tt := []struct {
		name    string
		reading reading
	}{
		{"read error", reading{err: fmt.Errorf("device gone")}},
		{"no measurements", reading{empty: true}},
		{"negative joules", reading{joules: -1, watts: 10}},
		{"negative watts", reading{joules: 10, watts: -1}},
		{"implausible joules", reading{joules: 1e13, watts: 10}},
		{"implausible watts", reading{joules: 10, watts: 1e10}},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			s := &scriptedSensor{readings: []reading{tc.reading}}
			v := NewValidator("rapl", s, WithClock(newFakeClock()))

			health := v.Validate()
			assert.False(t, health.Available)
			assert.True(t, v.FundamentallyBroken())
			assert.NotEmpty(t, v.ErrorDetails())
		})
	}
}

func TestValidateTooFewStabilityReadings(t *testing.T) {
	// basic check passes, then the sensor dies after two samples
	s := &scriptedSensor{readings: []reading{
		{joules: 10, watts: 50},
		{joules: 10, watts: 50},
		{joules: 10, watts: 50},
		{err: fmt.Errorf("bus timeout")},
	}}
	v := NewValidator("rapl", s, WithClock(newFakeClock()))

	health := v.Validate()
	assert.False(t, health.Available)
	assert.True(t, v.FundamentallyBroken())
	assert.Equal(t, "sensor failed to provide consistent readings", health.StatusMessage)
	assert.Equal(t, "bus timeout", v.ErrorDetails())
}

func TestValidateUnstableSensor(t *testing.T) {
	// rapl threshold is 100 J^2; these samples swing far wider
	s := steadySensor(10, 10, 500, 10, 900, 10)
	v := NewValidator("rapl", s, WithClock(newFakeClock()))

	health := v.Validate()
	assert.True(t, health.Available, "unstable sensors remain usable")
	assert.False(t, health.Stable)
	assert.False(t, v.FundamentallyBroken())
	assert.Contains(t, health.StatusMessage, "unstable")
	assert.Contains(t, health.StatusMessage, "variance:")
}

func TestStabilityThresholdSelection(t *testing.T) {
	tt := []struct {
		sensor    string
		threshold float64
	}{
		{"rapl", 100.0},
		{"nvml", 500.0},
		{"amdsmi", 500.0},
		{"powersensor2", 2000.0},
		{"powersensor3", 2000.0},
		{"redfish", 1000.0},
	}

	for _, tc := range tt {
		t.Run(tc.sensor, func(t *testing.T) {
			assert.Equal(t, tc.threshold, stabilityThreshold(tc.sensor))
		})
	}
}

func TestVariance(t *testing.T) {
	assert.Equal(t, 0.0, variance(nil))
	assert.Equal(t, 0.0, variance([]float64{42}))
	assert.InDelta(t, 0.0, variance([]float64{5, 5, 5, 5}), 1e-12)
	// population variance of {2, 4}: mean 3, ((1)+(1))/2 = 1
	assert.InDelta(t, 1.0, variance([]float64{2, 4}), 1e-12)
}

func TestValidatorDoesNotBlockOnFakeClock(t *testing.T) {
	s := steadySensor(10, 10, 10, 10, 10, 10)
	fake := newFakeClock()
	v := NewValidator("nvml", s, WithClock(fake))

	done := make(chan Health, 1)
	go func() { done <- v.Validate() }()

	select {
	case health := <-done:
		assert.True(t, health.Available)
	case <-time.After(5 * time.Second):
		t.Fatal("validation blocked on fake clock")
	}
}
