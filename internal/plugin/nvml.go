// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NvmlPlugin reads NVIDIA GPU energy and power through NVML. Energy comes
// from DeviceGetTotalEnergyConsumption (millijoules since driver load),
// power from DeviceGetPowerUsage (milliwatts). Multi-GPU systems report
// the sum with a per-device breakdown.
type NvmlPlugin struct {
	logger *slog.Logger

	mu          sync.Mutex
	devices     []nvml.Device
	initialized bool
}

var _ HardwarePlugin = (*NvmlPlugin)(nil)

// NvmlOptFn is a functional option for configuring an NvmlPlugin.
type NvmlOptFn func(*NvmlPlugin)

// WithNvmlLogger sets the logger for the NvmlPlugin.
func WithNvmlLogger(logger *slog.Logger) NvmlOptFn {
	return func(p *NvmlPlugin) {
		p.logger = logger.With("plugin", "nvml")
	}
}

// NewNvmlPlugin creates an NVML plugin. Init must succeed before
// measurements are taken.
func NewNvmlPlugin(opts ...NvmlOptFn) *NvmlPlugin {
	p := &NvmlPlugin{
		logger: slog.Default().With("plugin", "nvml"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *NvmlPlugin) Name() string {
	return "nvml"
}

// Available probes the NVML library and reports whether at least one GPU
// is visible. The probe initializes and shuts NVML down again, so it is
// safe to call before Init.
func (p *NvmlPlugin) Available() bool {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return false
	}
	defer func() { _ = nvml.Shutdown() }()

	count, ret := nvml.DeviceGetCount()
	return ret == nvml.SUCCESS && count > 0
}

// Init initializes NVML and collects device handles.
func (p *NvmlPlugin) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to initialize NVML: %s", nvml.ErrorString(ret))
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		_ = nvml.Shutdown()
		return fmt.Errorf("failed to count NVML devices: %s", nvml.ErrorString(ret))
	}
	if count == 0 {
		_ = nvml.Shutdown()
		return fmt.Errorf("no NVML devices found")
	}

	p.devices = make([]nvml.Device, 0, count)
	for i := 0; i < count; i++ {
		device, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			p.logger.Warn("Failed to get NVML device handle",
				"index", i,
				"error", nvml.ErrorString(ret))
			continue
		}
		p.devices = append(p.devices, device)
	}

	if len(p.devices) == 0 {
		_ = nvml.Shutdown()
		return fmt.Errorf("no usable NVML devices")
	}

	p.initialized = true
	p.logger.Debug("Initialized NVML", "devices", len(p.devices))

	return nil
}

func (p *NvmlPlugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}
	p.devices = nil
	p.initialized = false

	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to shut down NVML: %s", nvml.ErrorString(ret))
	}
	return nil
}

// GetMeasurement sums energy, power and the hottest temperature across all
// devices. Devices that fail to report energy are skipped; the measurement
// fails only when every device does.
func (p *NvmlPlugin) GetMeasurement() (*Measurement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("nvml plugin not initialized")
	}

	breakdown := make(map[string]float64, len(p.devices))
	totalJoules := 0.0
	totalWatts := 0.0
	maxTemp := 0.0
	readable := 0

	for i, device := range p.devices {
		mj, ret := device.GetTotalEnergyConsumption()
		if ret != nvml.SUCCESS {
			p.logger.Warn("Failed to read GPU energy",
				"index", i,
				"error", nvml.ErrorString(ret))
			continue
		}
		readable++

		joules := float64(mj) / 1e3
		breakdown[fmt.Sprintf("gpu-%d", i)] = joules
		totalJoules += joules

		if mw, ret := device.GetPowerUsage(); ret == nvml.SUCCESS {
			totalWatts += float64(mw) / 1e3
		}
		if temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
			if t := float64(temp); t > maxTemp {
				maxTemp = t
			}
		}
	}

	if readable == 0 {
		return nil, fmt.Errorf("no NVML device reported energy")
	}

	return &Measurement{
		Source:      p.Name(),
		Joules:      totalJoules,
		Watts:       totalWatts,
		Temperature: maxTemp,
		Timestamp:   time.Now(),
		Breakdown:   breakdown,
	}, nil
}
