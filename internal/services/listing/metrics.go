// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package listing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for fetching and caching listings.
type Metrics struct {
	PagesFetched   *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	FetchErrors    *prometheus.CounterVec
	SafetyBoundHit *prometheus.CounterVec
	CacheMerges    *prometheus.CounterVec
	CacheItems     *prometheus.GaugeVec
	CacheReads     *prometheus.CounterVec
	QueryDuration  prometheus.Histogram
}

// NewMetrics creates the listing metrics and registers them with reg. A nil
// registerer yields working but unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iptbrowser_pages_fetched_total",
			Help: "Listing pages fetched from the site by category",
		}, []string{"category"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iptbrowser_category_fetch_duration_seconds",
			Help:    "Time spent fetching all pages of one category",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"category"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iptbrowser_fetch_errors_total",
			Help: "Category fetches aborted by an error, by error kind",
		}, []string{"category", "kind"}),
		SafetyBoundHit: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iptbrowser_fetch_page_limit_reached_total",
			Help: "Windowed fetches stopped by the page limit rather than the cutoff",
		}, []string{"category"}),
		CacheMerges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iptbrowser_cache_merges_total",
			Help: "Cache merges by mode",
		}, []string{"mode"}),
		CacheItems: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iptbrowser_cache_items",
			Help: "Items held in the listing cache by category",
		}, []string{"category"}),
		CacheReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iptbrowser_cache_reads_total",
			Help: "Cache lookups by result (hit, stale, miss, corrupt)",
		}, []string{"result"}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "iptbrowser_query_duration_seconds",
			Help:    "Time spent answering list queries including fetches",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
