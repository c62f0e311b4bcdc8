// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"

	"github.com/jouletrack/jouletrack/internal/plugin"
	"github.com/jouletrack/jouletrack/internal/sensor"
)

// pluginSensor adapts a HardwarePlugin to the sensor.Sensor interface so
// the validator can exercise it before it is trusted.
type pluginSensor struct {
	p plugin.HardwarePlugin
}

func (ps pluginSensor) Read() (sensor.State, error) {
	m, err := ps.p.GetMeasurement()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("plugin %s returned no measurement", ps.p.Name())
	}
	return measurementState{m}, nil
}

// measurementState exposes a single plugin measurement as a one-element
// sensor state.
type measurementState struct {
	m *plugin.Measurement
}

func (s measurementState) NrMeasurements() int { return 1 }

func (s measurementState) Joules(int) float64 { return s.m.Joules }

func (s measurementState) Watts(int) float64 { return s.m.Watts }
