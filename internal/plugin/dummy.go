// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// NOTE: the dummy plugin is for tests and demo runs, not production use.

// DummyPlugin fabricates a steadily growing energy total with a small
// random component, wrapping at maxJoules to mimic a bounded hardware
// counter.
type DummyPlugin struct {
	name         string
	logger       *slog.Logger
	increment    float64
	randomFactor float64
	maxJoules    float64

	mu          sync.Mutex
	joules      float64
	initialized bool
}

var _ HardwarePlugin = (*DummyPlugin)(nil)

// DummyOptFn is a functional option for configuring a DummyPlugin.
type DummyOptFn func(*DummyPlugin)

// WithDummyName overrides the plugin name.
func WithDummyName(name string) DummyOptFn {
	return func(p *DummyPlugin) {
		p.name = name
	}
}

// WithDummyIncrement sets the joules added per reading.
func WithDummyIncrement(j float64) DummyOptFn {
	return func(p *DummyPlugin) {
		p.increment = j
	}
}

// WithDummyMaxJoules sets the wrap boundary of the fabricated counter.
func WithDummyMaxJoules(j float64) DummyOptFn {
	return func(p *DummyPlugin) {
		p.maxJoules = j
	}
}

// WithDummyLogger sets the logger for the DummyPlugin.
func WithDummyLogger(logger *slog.Logger) DummyOptFn {
	return func(p *DummyPlugin) {
		p.logger = logger.With("plugin", p.name)
	}
}

// NewDummyPlugin creates a dummy plugin named "dummy".
func NewDummyPlugin(opts ...DummyOptFn) *DummyPlugin {
	p := &DummyPlugin{
		name:         "dummy",
		logger:       slog.Default().With("plugin", "dummy"),
		increment:    0.5,
		randomFactor: 0.2,
		maxJoules:    1_000_000,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *DummyPlugin) Name() string {
	return p.name
}

func (p *DummyPlugin) Available() bool {
	return true
}

func (p *DummyPlugin) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = true
	return nil
}

func (p *DummyPlugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = false
	return nil
}

// GetMeasurement advances the fabricated counter and reports it.
func (p *DummyPlugin) GetMeasurement() (*Measurement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	step := p.increment + rand.Float64()*p.increment*p.randomFactor
	p.joules += step
	if p.joules >= p.maxJoules {
		p.joules -= p.maxJoules
	}

	return &Measurement{
		Source:      p.name,
		Joules:      p.joules,
		Watts:       step * 10, // pretend readings are 100ms apart
		Temperature: 42,
		Timestamp:   time.Now(),
	}, nil
}
