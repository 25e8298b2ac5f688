package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "finconv_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	jobsTotal   *prometheus.CounterVec
	jobRetries  prometheus.Counter
	jobDuration *prometheus.HistogramVec

	documentsParsed *prometheus.CounterVec
	parseLatency    *prometheus.HistogramVec

	itemsMatched *prometheus.CounterVec

	factsGenerated prometheus.Counter
	factsSkipped   prometheus.Counter
)

// Init registers conversion metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		jobsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "jobs_total",
				Help: "Total conversion jobs by final result",
			},
			[]string{"result"},
		)
		jobRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "job_retries_total",
				Help: "Total job retry attempts",
			},
		)
		jobDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "job_duration_seconds",
				Help:    "End-to-end conversion duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		documentsParsed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "documents_parsed_total",
				Help: "Total parsed documents by format and result",
			},
			[]string{"format", "result"},
		)
		parseLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "parse_latency_seconds",
				Help:    "Parse latency in seconds by format",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		)

		itemsMatched = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "items_matched_total",
				Help: "Total line items by match method (unmapped included)",
			},
			[]string{"method"},
		)

		factsGenerated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "facts_generated_total",
				Help: "Total facts written to instance documents",
			},
		)
		factsSkipped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "facts_skipped_total",
				Help: "Total line items skipped during generation",
			},
		)

		prometheus.MustRegister(
			jobsTotal,
			jobRetries,
			jobDuration,
			documentsParsed,
			parseLatency,
			itemsMatched,
			factsGenerated,
			factsSkipped,
		)
	})
}

// ObserveJob records one finished job with its total duration.
func ObserveJob(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(result).Inc()
	}
	if jobDuration != nil {
		jobDuration.WithLabelValues(result).Observe(duration.Seconds())
	}
}

func IncJobRetry() {
	if jobRetries != nil {
		jobRetries.Inc()
	}
}

func ObserveParse(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if documentsParsed != nil {
		documentsParsed.WithLabelValues(format, result).Inc()
	}
	if parseLatency != nil {
		parseLatency.WithLabelValues(format).Observe(duration.Seconds())
	}
}

func IncItemMatched(method string) {
	if method == "" {
		method = "unmapped"
	}
	if itemsMatched != nil {
		itemsMatched.WithLabelValues(method).Inc()
	}
}

func AddFacts(generated, skipped int) {
	if factsGenerated != nil && generated > 0 {
		factsGenerated.Add(float64(generated))
	}
	if factsSkipped != nil && skipped > 0 {
		factsSkipped.Add(float64(skipped))
	}
}

const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
