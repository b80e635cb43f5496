// Package metrics exposes Prometheus collectors for the harvest service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal      *prometheus.CounterVec
	filesDownloadedTotal *prometheus.CounterVec
	downloadBytesTotal   *prometheus.CounterVec
	dedupHitsTotal       *prometheus.CounterVec
	catalogOutcomesTotal *prometheus.CounterVec
	catalogBatchSize     prometheus.Histogram
	activeWorkers        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_crawl_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		filesDownloadedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_files_downloaded_total",
				Help: "Total number of document downloads, labeled by site.",
			},
			[]string{"site"},
		)

		downloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_download_bytes_total",
				Help: "Total bytes downloaded, labeled by site.",
			},
			[]string{"site"},
		)

		dedupHitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_dedup_hits_total",
				Help: "Downloads whose content was already stored, labeled by site.",
			},
			[]string{"site"},
		)

		catalogOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_catalog_outcomes_total",
				Help: "Catalog item outcomes, labeled by status.",
			},
			[]string{"status"},
		)

		catalogBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvest_catalog_batch_size",
				Help:    "Histogram of candidate batch sizes per engine pass.",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_extract_workers",
				Help: "Number of workers currently extracting a document.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the crawl page counter.
func ObservePage(site, status string) {
	crawlPagesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveDownload records a completed document download.
func ObserveDownload(site string, bytes int64, dedupHit bool) {
	sanitized := SanitizeSite(site)
	filesDownloadedTotal.WithLabelValues(sanitized).Inc()
	if bytes > 0 {
		downloadBytesTotal.WithLabelValues(sanitized).Add(float64(bytes))
	}
	if dedupHit {
		dedupHitsTotal.WithLabelValues(sanitized).Inc()
	}
}

// ObserveOutcome increments the catalog outcome counter for status.
func ObserveOutcome(status string) {
	catalogOutcomesTotal.WithLabelValues(status).Inc()
}

// ObserveBatch records the size of one candidate batch.
func ObserveBatch(size int) {
	catalogBatchSize.Observe(float64(size))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
