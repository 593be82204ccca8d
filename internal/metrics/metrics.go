// Package metrics exposes Prometheus counters for the HTTP API and quiz
// sessions.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "songquiz"

// Collector holds the application's metrics on its own registry, so tests
// can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	SessionsStarted   *prometheus.CounterVec
	SessionsCompleted prometheus.Counter
	Answers           *prometheus.CounterVec
	SessionQuestions  prometheus.Histogram
	SessionAccuracy   prometheus.Histogram

	SyncRuns   *prometheus.CounterVec
	SyncErrors prometheus.Counter
}

// NewCollector creates and registers every metric, plus the Go runtime and
// process collectors.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		SessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of quiz sessions started",
			},
			[]string{"song"},
		),
		SessionsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_completed_total",
				Help:      "Total number of quiz sessions completed",
			},
		),
		Answers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "answers_total",
				Help:      "Total number of answers, by correctness",
			},
			[]string{"correct"},
		),
		SessionQuestions: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_questions",
				Help:      "Number of questions selected per session",
				Buckets:   []float64{1, 5, 10, 15, 20, 30, 50},
			},
		),
		SessionAccuracy: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_accuracy_ratio",
				Help:      "Share of correct answers per completed session",
				Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
		),
		SyncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Total number of source sync runs, by outcome",
			},
			[]string{"outcome"},
		),
		SyncErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_source_errors_total",
				Help:      "Total number of per-source sync problems",
			},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.SessionsStarted,
		c.SessionsCompleted,
		c.Answers,
		c.SessionQuestions,
		c.SessionAccuracy,
		c.SyncRuns,
		c.SyncErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRequest records one finished HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, seconds float64) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}

// ObserveSync records the outcome of a sync run.
func (c *Collector) ObserveSync(sourceErrors int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	c.SyncRuns.WithLabelValues(outcome).Inc()
	c.SyncErrors.Add(float64(sourceErrors))
}

// The methods below make a Collector a quiz.Observer.

func (c *Collector) SessionStarted(songID string, questions int) {
	c.SessionsStarted.WithLabelValues(songID).Inc()
	c.SessionQuestions.Observe(float64(questions))
}

func (c *Collector) QuestionAnswered(correct bool) {
	c.Answers.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

// SessionCompleted counts the session. Sessions with no answers are left out
// of the accuracy histogram.
func (c *Collector) SessionCompleted(correct, total int) {
	c.SessionsCompleted.Inc()
	if total > 0 {
		c.SessionAccuracy.Observe(float64(correct) / float64(total))
	}
}
