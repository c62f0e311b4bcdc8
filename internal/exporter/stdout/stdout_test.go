// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/jouletrack/jouletrack/internal/monitor"
)

// MockMonitor mocks the Monitor interface
type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockMonitor) Snapshot() (*monitor.Snapshot, error) {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.(*monitor.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name          string
		expectService string
		opts          []OptionFn
		out           io.WriteCloser
		interval      time.Duration
	}{{
		name:          "default options",
		expectService: "stdout",
		opts:          []OptionFn{},
		out:           os.Stdout,
		interval:      2 * time.Second,
	}, {
		name:          "custom options",
		expectService: "stdout",
		opts: []OptionFn{
			WithLogger(slog.Default()),
			WithOutput(os.Stderr),
			WithInterval(20 * time.Second),
		},
		out:      os.Stderr,
		interval: 20 * time.Second,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockMonitor := &MockMonitor{}
			exporter := NewExporter(mockMonitor, tt.opts...)
			assert.NotNil(t, exporter)
			assert.Equal(t, tt.expectService, exporter.Name())
			assert.NotNil(t, exporter.logger)
			assert.Same(t, mockMonitor, exporter.monitor)
			assert.Same(t, tt.out, exporter.out)
			assert.Equal(t, tt.interval, exporter.interval)
		})
	}
}

type dummyTarget struct {
	io.Writer
}

func (dwc *dummyTarget) Close() error {
	return nil
}

func TestExporterInitRunShutdown(t *testing.T) {
	mockMonitor := &MockMonitor{}
	mockMonitor.On("Snapshot").Return(testSnapshot(), nil)
	out := &dummyTarget{&bytes.Buffer{}}
	exporter := NewExporter(mockMonitor, WithOutput(out), WithInterval(100*time.Millisecond))

	err := exporter.Init()
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go func() { _ = exporter.Run(ctx) }()
	time.Sleep(time.Second)
	assert.NoError(t, exporter.Shutdown())
	mockMonitor.AssertExpectations(t)
}

func TestWriteRendersCountersAndDomains(t *testing.T) {
	buf := bytes.Buffer{}
	write(&buf, testSnapshot())
	out := buf.String()

	assert.Contains(t, out, "nvml")
	assert.Contains(t, out, "rapl")
	assert.Contains(t, out, "2.500000")
	assert.Contains(t, out, "10.000000")
	assert.Contains(t, out, "Package")
	assert.Contains(t, out, "DRAM")
	assert.Contains(t, strings.ToUpper(out), "WRAPAROUNDS")
}

func TestWriteSkipsEmptyDomainTable(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.Domains = nil

	buf := bytes.Buffer{}
	write(&buf, snapshot)
	assert.NotContains(t, strings.ToUpper(buf.String()), "RAPL DOMAIN")
}

func testSnapshot() *monitor.Snapshot {
	return &monitor.Snapshot{
		Timestamp: time.Now(),
		Counters: []monitor.CounterUsage{
			{ID: "nvml", Name: "nvml", Domain: "nvml", Joules: 2.5, Accumulated: 2_500_000, Wraparounds: 0},
			{ID: "rapl", Name: "rapl", Domain: "rapl", Joules: 10.0, Accumulated: 10_000_000, Wraparounds: 1},
		},
		Domains: []monitor.DomainUsage{
			{Domain: "DRAM", Joules: 2.0},
			{Domain: "Package", Joules: 10.0},
		},
		TotalJoules:    12.5,
		PackageJoules:  10.0,
		ActiveCounters: 2,
	}
}
