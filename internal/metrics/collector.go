package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	probeDuration *prometheus.HistogramVec
	probeFailures *prometheus.CounterVec

	endpointHealthy      *prometheus.GaugeVec
	endpointResponseTime *prometheus.GaugeVec
	endpointActive       *prometheus.GaugeVec

	failoversTotal  *prometheus.CounterVec
	providerUpdates *prometheus.CounterVec
	providersAvail  prometheus.Gauge

	alertsTotal      *prometheus.CounterVec
}

func NewCollector() *Collector {
	return &Collector{
		probeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "failover_probe_duration_seconds",
				Help:    "Duration of endpoint health probes in seconds",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),

		probeFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failover_probe_failures_total",
				Help: "Total number of failed endpoint probes",
			},
			[]string{"endpoint"},
		),

		endpointHealthy: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "failover_endpoint_healthy",
				Help: "Whether the endpoint is healthy (1) or not (0)",
			},
			[]string{"endpoint"},
		),

		endpointResponseTime: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "failover_endpoint_response_time_ms",
				Help: "Rolling average endpoint response time in milliseconds",
			},
			[]string{"endpoint"},
		),

		endpointActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "failover_endpoint_active",
				Help: "Whether the endpoint is the active DNS target (1) or not (0)",
			},
			[]string{"endpoint"},
		),

		failoversTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failover_switches_total",
				Help: "Total number of failover attempts by reason and result",
			},
			[]string{"reason", "result"},
		),

		providerUpdates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failover_provider_updates_total",
				Help: "Total number of DNS provider record updates by result",
			},
			[]string{"provider", "result"},
		),

		providersAvail: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "failover_providers_available",
				Help: "Number of DNS providers that passed the startup health check",
			},
		),

		alertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failover_alerts_total",
				Help: "Total number of alerts emitted by severity",
			},
			[]string{"severity"},
		),
	}
}

func (c *Collector) RecordProbe(endpoint string, success bool, duration time.Duration) {
	c.probeDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	if !success {
		c.probeFailures.WithLabelValues(endpoint).Inc()
	}
}

func (c *Collector) SetEndpointHealth(endpoint string, healthy bool, avgResponseTime time.Duration) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.endpointHealthy.WithLabelValues(endpoint).Set(val)
	c.endpointResponseTime.WithLabelValues(endpoint).Set(float64(avgResponseTime.Milliseconds()))
}

func (c *Collector) SetActiveEndpoint(active string, all []string) {
	for _, name := range all {
		val := 0.0
		if name == active {
			val = 1.0
		}
		c.endpointActive.WithLabelValues(name).Set(val)
	}
}

func (c *Collector) RecordFailover(reason string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.failoversTotal.WithLabelValues(reason, result).Inc()
}

func (c *Collector) RecordProviderUpdate(provider string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.providerUpdates.WithLabelValues(provider, result).Inc()
}

func (c *Collector) SetProvidersAvailable(n int) {
	c.providersAvail.Set(float64(n))
}

func (c *Collector) RecordAlert(severity string) {
	c.alertsTotal.WithLabelValues(severity).Inc()
}
