// Package metrics exposes Prometheus counters for the session lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Profile fetch outcomes.
const (
	FetchFound    = "found"
	FetchMissing  = "missing"
	FetchTimeout  = "timeout"
	FetchError    = "error"
	FetchStale    = "stale"
	FetchCanceled = "canceled"
)

// Provisioning outcomes.
const (
	ProvisionCreated             = "created"
	ProvisionAdopted             = "adopted"
	ProvisionFailed              = "failed"
	ProvisionIdentityUnavailable = "identity_unavailable"
)

// Collector records session metrics into a Prometheus registry.
type Collector struct {
	profileFetches     *prometheus.CounterVec
	fetchLatency       prometheus.Histogram
	provisioning       *prometheus.CounterVec
	nicknameCollisions prometheus.Counter
	detachedFailures   *prometheus.CounterVec
	authEvents         *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		profileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kindred_profile_fetch_total",
			Help: "Profile fetch-or-create runs by outcome.",
		}, []string{"outcome"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kindred_profile_fetch_latency_seconds",
			Help:    "Latency of the profile lookup, including timeouts.",
			Buckets: prometheus.DefBuckets,
		}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kindred_profile_provisioning_total",
			Help: "Profile provisioning attempts by outcome.",
		}, []string{"outcome"}),
		nicknameCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kindred_nickname_collisions_total",
			Help: "Nickname candidates rejected because they were already taken.",
		}),
		detachedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kindred_detached_task_failures_total",
			Help: "Background task failures by task name.",
		}, []string{"task"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kindred_auth_events_total",
			Help: "Auth events received by type and whether they were reconciled.",
		}, []string{"type", "reconciled"}),
	}

	reg.MustRegister(
		c.profileFetches,
		c.fetchLatency,
		c.provisioning,
		c.nicknameCollisions,
		c.detachedFailures,
		c.authEvents,
	)

	return c
}

// RecordProfileFetch counts a fetch-or-create outcome.
func (c *Collector) RecordProfileFetch(outcome string, latency time.Duration) {
	c.profileFetches.WithLabelValues(outcome).Inc()
	c.fetchLatency.Observe(latency.Seconds())
}

// RecordProvisioning counts a provisioning outcome.
func (c *Collector) RecordProvisioning(outcome string) {
	c.provisioning.WithLabelValues(outcome).Inc()
}

// RecordNicknameCollision counts a taken nickname candidate.
func (c *Collector) RecordNicknameCollision() {
	c.nicknameCollisions.Inc()
}

// RecordDetachedFailure counts a failed background task.
func (c *Collector) RecordDetachedFailure(task string) {
	c.detachedFailures.WithLabelValues(task).Inc()
}

// RecordAuthEvent counts an auth event delivered to the controller.
func (c *Collector) RecordAuthEvent(eventType string, reconciled bool) {
	label := "false"
	if reconciled {
		label = "true"
	}
	c.authEvents.WithLabelValues(eventType, label).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordProfileFetch(string, time.Duration) {}
func (Nop) RecordProvisioning(string)                {}
func (Nop) RecordNicknameCollision()                 {}
func (Nop) RecordDetachedFailure(string)             {}
func (Nop) RecordAuthEvent(string, bool)             {}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
