package chunkmanager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sliceview_chunk_requests_total",
		Help: "Chunk requests received, by priority tier",
	}, []string{"tier"})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sliceview_chunk_queue_length",
		Help: "Chunks waiting for download after the last priority update",
	})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sliceview_chunk_downloads_total",
		Help: "Finished chunk downloads, by result",
	}, []string{"result"})

	downloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sliceview_chunk_download_bytes_total",
		Help: "Bytes of chunk payload downloaded",
	})

	downloadSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sliceview_chunk_download_seconds",
		Help:    "Time to download one chunk",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sliceview_chunk_evictions_total",
		Help: "Recent chunks evicted from the manager",
	})
)
