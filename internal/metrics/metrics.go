// Package metrics declares the Prometheus collectors shared by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vkyc_bulk_requests_submitted_total",
		Help: "Bulk requests accepted, by kind.",
	}, []string{"kind"})

	RequestsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vkyc_bulk_requests_rejected_total",
		Help: "Bulk submissions rejected by validation.",
	})

	RequestsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vkyc_bulk_requests_finalized_total",
		Help: "Bulk requests that reached a terminal status, by status.",
	}, []string{"status"})

	ItemsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vkyc_bulk_items_resolved_total",
		Help: "Identifiers resolved against storage, by outcome.",
	}, []string{"outcome"})

	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vkyc_bulk_item_resolve_seconds",
		Help:    "Time spent resolving one identifier.",
		Buckets: prometheus.DefBuckets,
	})

	ArchiveBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vkyc_bulk_archive_bytes_total",
		Help: "Uncompressed bytes streamed into download archives.",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vkyc_status_cache_hits_total",
		Help: "Status cache hits, by backend.",
	}, []string{"backend"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vkyc_status_cache_misses_total",
		Help: "Status cache misses, by backend.",
	}, []string{"backend"})
)
