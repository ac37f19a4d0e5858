// Package metrics exposes Prometheus collectors for the arrêtés crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page and document outcome labels.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusRetry   = "retry"
	StatusSkipped = "skipped"
)

var (
	pagesTotal               *prometheus.CounterVec
	pageDurationSeconds      prometheus.Histogram
	ordersTotal              *prometheus.CounterVec
	duplicatesTotal          prometheus.Counter
	extractionFailuresTotal  prometheus.Counter
	pdfDownloadsTotal        *prometheus.CounterVec
	pdfBytesTotal            prometheus.Counter
	uploadsTotal             *prometheus.CounterVec
	exportsTotal             *prometheus.CounterVec
	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	rateLimitDelaysSeconds   *prometheus.HistogramVec
	robotsFetchFailuresTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arretes_listing_pages_total",
				Help: "Listing pages fetched, labeled by status.",
			},
			[]string{"status"},
		)

		pageDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arretes_listing_page_duration_seconds",
				Help:    "Time spent rendering one listing page.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 90},
			},
		)

		ordersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arretes_orders_total",
				Help: "Orders kept in the result set, labeled by traffic classification.",
			},
			[]string{"traffic"},
		)

		duplicatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "arretes_duplicates_total",
				Help: "Orders dropped because their identifier was already seen.",
			},
		)

		extractionFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "arretes_extraction_failures_total",
				Help: "Listing entries dropped because nothing could be extracted.",
			},
		)

		pdfDownloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arretes_pdf_downloads_total",
				Help: "PDF downloads, labeled by status.",
			},
			[]string{"status"},
		)

		pdfBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "arretes_pdf_bytes_total",
				Help: "Bytes of PDF content downloaded.",
			},
		)

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arretes_uploads_total",
				Help: "PDF uploads, labeled by status (success: written or simulated, skipped: object already stored, failed: write error).",
			},
			[]string{"status"},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arretes_exports_total",
				Help: "Export adapter runs, labeled by sink and status.",
			},
			[]string{"sink", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arretes_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFetchFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "arretes_robots_fetch_failures_total",
				Help: "robots.txt fetches that failed and fell back to allow.",
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

// ObservePage records one listing page outcome.
func ObservePage(status string, duration time.Duration) {
	Init()
	pagesTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		pageDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveOrder counts one order kept in the result set.
func ObserveOrder(traffic bool) {
	Init()
	ordersTotal.WithLabelValues(strconv.FormatBool(traffic)).Inc()
}

// ObserveDuplicate counts one dropped duplicate.
func ObserveDuplicate() {
	Init()
	duplicatesTotal.Inc()
}

// ObserveExtractionFailure counts one dropped entry.
func ObserveExtractionFailure() {
	Init()
	extractionFailuresTotal.Inc()
}

// ObservePDFDownload records one PDF download outcome.
func ObservePDFDownload(status string, size int) {
	Init()
	pdfDownloadsTotal.WithLabelValues(status).Inc()
	if size > 0 {
		pdfBytesTotal.Add(float64(size))
	}
}

// ObserveUpload records one object store outcome.
func ObserveUpload(status string) {
	Init()
	uploadsTotal.WithLabelValues(status).Inc()
}

// ObserveExport records one export adapter run.
func ObserveExport(sink, status string) {
	Init()
	exportsTotal.WithLabelValues(sink, status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFetchFailure counts a robots.txt fetch that fell back to allow.
func ObserveRobotsFetchFailure() {
	Init()
	robotsFetchFailuresTotal.Inc()
}
