// Prometheus collectors for the proxy:
//
//	hedgeproxy_requests_total{route,status}
//	hedgeproxy_request_duration_seconds{route}
//	hedgeproxy_upstream_requests_total{market,endpoint,outcome}
//	hedgeproxy_upstream_duration_seconds{market,endpoint}
//	hedgeproxy_metric_events_total{component,metric}
//	hedgeproxy_binance_used_weight{market,window}
//	go_* and process_* runtime metrics
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upstream call outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeUpstream  = "upstream_error"
	OutcomeTransport = "transport_error"
)

var (
	registry = prometheus.NewRegistry()

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgeproxy_requests_total",
			Help: "Inbound requests by route and response status",
		},
		[]string{"route", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hedgeproxy_request_duration_seconds",
			Help:    "Inbound request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	upstreamTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgeproxy_upstream_requests_total",
			Help: "Calls to Binance by market, endpoint and outcome",
		},
		[]string{"market", "endpoint", "outcome"},
	)

	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hedgeproxy_upstream_duration_seconds",
			Help:    "Latency of calls to Binance",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"market", "endpoint"},
	)

	metricEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgeproxy_metric_events_total",
			Help: "Counter metric events such as rate limits, bans and failed self pings",
		},
		[]string{"component", "metric"},
	)

	usedWeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hedgeproxy_binance_used_weight",
			Help: "Last request weight reported by Binance",
		},
		[]string{"market", "window"},
	)

	requestCount       int64
	upstreamErrorCount int64
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		requestsTotal,
		requestDuration,
		upstreamTotal,
		upstreamDuration,
		metricEvents,
		usedWeight,
	)
	RegisterMetricHandler(observeMetricEvent)
}

// Handler exposes the proxy registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one inbound request.
func ObserveRequest(route string, status int, elapsed time.Duration) {
	atomic.AddInt64(&requestCount, 1)
	requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveUpstream records one call to Binance.
func ObserveUpstream(market, endpoint, outcome string, elapsed time.Duration) {
	if outcome != OutcomeSuccess {
		atomic.AddInt64(&upstreamErrorCount, 1)
	}
	upstreamTotal.WithLabelValues(market, endpoint, outcome).Inc()
	upstreamDuration.WithLabelValues(market, endpoint).Observe(elapsed.Seconds())
}

// observeMetricEvent mirrors emitted metric events into the registry.
func observeMetricEvent(event Metric) {
	switch {
	case event.Name == "used_weight":
		value, ok := toFloat64(event.Value)
		if !ok {
			return
		}
		market, _ := event.Fields["market"].(string)
		window, _ := event.Fields["window"].(string)
		usedWeight.WithLabelValues(market, window).Set(value)
	case event.Type == "counter":
		value, ok := toFloat64(event.Value)
		if !ok || value < 0 {
			return
		}
		metricEvents.WithLabelValues(event.Component, event.Name).Add(value)
	}
}
