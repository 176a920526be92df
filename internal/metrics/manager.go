// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/autobrr/iptbrowser/internal/buildinfo"
)

// Manager owns the registry every component registers its metrics with.
type Manager struct {
	registry *prometheus.Registry
}

func NewMetricsManager() *Manager {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "iptbrowser_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"version": buildinfo.Version},
		}, func() float64 { return 1 }),
	)
	return &Manager{registry: reg}
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterGauge exposes a value read on every scrape, such as a queue depth.
func (m *Manager) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}
