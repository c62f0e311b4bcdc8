// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jouletrack/jouletrack/internal/monitor"
)

type CounterDataProvider = monitor.Service

// CounterCollector exposes the monitor's counter snapshot as Prometheus
// metrics. All metrics of one scrape come from a single snapshot so they
// are consistent with each other.
type CounterCollector struct {
	pm     CounterDataProvider
	logger *slog.Logger

	counterJoulesDesc *prometheus.Desc
	wraparoundsDesc   *prometheus.Desc
	domainJoulesDesc  *prometheus.Desc
	totalJoulesDesc   *prometheus.Desc
	packageJoulesDesc *prometheus.Desc
	activeDesc        *prometheus.Desc
}

// NewCounterCollector creates a collector that reads one snapshot per
// scrape.
func NewCounterCollector(pm CounterDataProvider, logger *slog.Logger) *CounterCollector {
	const (
		counter = "counter"
		domain  = "domain"
	)

	return &CounterCollector{
		pm:     pm,
		logger: logger.With("collector", "counter"),

		counterJoulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "counter", "joules_total"),
			"Accumulated energy of a hardware counter in joules",
			[]string{counter, domain}, nil),
		wraparoundsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "counter", "wraparounds_total"),
			"Number of wraparounds detected on a hardware counter",
			[]string{counter}, nil),
		domainJoulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rapl", "domain_joules_total"),
			"Accumulated energy of a RAPL domain in joules",
			[]string{domain}, nil),
		totalJoulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "node", "joules_total"),
			"Accumulated energy across all active counters in joules",
			nil, nil),
		packageJoulesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rapl", "package_joules_total"),
			"Overlap-aware total package energy in joules",
			nil, nil),
		activeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "counters", "active"),
			"Number of active, initialized hardware counters",
			nil, nil),
	}
}

func (c *CounterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.counterJoulesDesc
	ch <- c.wraparoundsDesc
	ch <- c.domainJoulesDesc
	ch <- c.totalJoulesDesc
	ch <- c.packageJoulesDesc
	ch <- c.activeDesc
}

func (c *CounterCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot, err := c.pm.Snapshot()
	if err != nil {
		c.logger.Error("Failed to collect counter data", "error", err)
		return
	}

	for _, counter := range snapshot.Counters {
		ch <- prometheus.MustNewConstMetric(
			c.counterJoulesDesc,
			prometheus.CounterValue,
			counter.Joules,
			counter.ID, counter.Domain,
		)
		ch <- prometheus.MustNewConstMetric(
			c.wraparoundsDesc,
			prometheus.CounterValue,
			float64(counter.Wraparounds),
			counter.ID,
		)
	}

	for _, domain := range snapshot.Domains {
		ch <- prometheus.MustNewConstMetric(
			c.domainJoulesDesc,
			prometheus.CounterValue,
			domain.Joules,
			domain.Domain,
		)
	}

	ch <- prometheus.MustNewConstMetric(c.totalJoulesDesc, prometheus.CounterValue, snapshot.TotalJoules)
	if len(snapshot.Domains) > 0 {
		ch <- prometheus.MustNewConstMetric(c.packageJoulesDesc, prometheus.CounterValue, snapshot.PackageJoules)
	}
	ch <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue, float64(snapshot.ActiveCounters))
}
