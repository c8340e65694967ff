// Package metrics exposes feed, store, publisher and HTTP metrics for
// Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Cycles        *prometheus.CounterVec // outcome label: ok|fetch_error|http_error|decode_error
	CycleDuration prometheus.Histogram
	Entities      *prometheus.CounterVec // result label: folded|skipped
	Evicted       *prometheus.CounterVec // kind label: trip|departure
	StoreSize     *prometheus.GaugeVec   // kind label: trips|stops|departures

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec // method, route, status
	HTTPDuration *prometheus.HistogramVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livedepartures_feed_cycles_total",
			Help: "Feed poll cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livedepartures_feed_cycle_duration_seconds",
			Help:    "Duration of a feed poll cycle including fetch and fold.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		Entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livedepartures_feed_entities_total",
			Help: "Trip update entities folded into the store or skipped.",
		}, []string{"result"}),
		Evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livedepartures_store_evicted_total",
			Help: "Expired entries removed from the update store.",
		}, []string{"kind"}),
		StoreSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livedepartures_store_entries",
			Help: "Entries currently held in the update store.",
		}, []string{"kind"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livedepartures_nats_published_total",
			Help: "Messages published to NATS.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livedepartures_nats_publish_errors_total",
			Help: "Errors while publishing to NATS.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livedepartures_nats_connected",
			Help: "1 if connected to NATS, else 0.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livedepartures_nats_publish_duration_seconds",
			Help:    "Duration of NATS publish calls.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livedepartures_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livedepartures_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.Cycles, c.CycleDuration, c.Entities, c.Evicted, c.StoreSize,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.HTTPRequests, c.HTTPDuration,
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Feed poller hooks.

func (c *Collector) CycleObserve(outcome string, d time.Duration) {
	c.Cycles.WithLabelValues(outcome).Inc()
	c.CycleDuration.Observe(d.Seconds())
}

func (c *Collector) EntitiesAdd(folded, skipped int) {
	c.Entities.WithLabelValues("folded").Add(float64(folded))
	c.Entities.WithLabelValues("skipped").Add(float64(skipped))
}

func (c *Collector) EvictedAdd(trips, departures int) {
	c.Evicted.WithLabelValues("trip").Add(float64(trips))
	c.Evicted.WithLabelValues("departure").Add(float64(departures))
}

func (c *Collector) StoreSizeSet(trips, stops, departures int) {
	c.StoreSize.WithLabelValues("trips").Set(float64(trips))
	c.StoreSize.WithLabelValues("stops").Set(float64(stops))
	c.StoreSize.WithLabelValues("departures").Set(float64(departures))
}

// NATS publisher hooks.

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// ObserveHTTP records one finished request. route is the mux pattern, not
// the raw path, to keep label cardinality bounded.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}
