// Package metrics exposes session activity as Prometheus counters.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/activitymap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "site"

// Collector records activity events, contact submissions and HTTP responses.
// It implements session.ActivitySink.
type Collector struct {
	activity *prometheus.CounterVec
	contact  *prometheus.CounterVec
	status   *prometheus.CounterVec
	visitors prometheus.Gauge
}

var _ session.ActivitySink = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Session activity events by verb and outcome.",
		}, []string{"object_type", "verb", "outcome"}),
		contact: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contact_submissions_total",
			Help:      "Contact form submissions by result.",
		}, []string{"result"}),
		status: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTP responses by status code.",
		}, []string{"status_code"}),
		visitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_visitors",
			Help:      "Visitors holding a session manager.",
		}),
	}

	reg.MustRegister(c.activity, c.contact, c.status, c.visitors)
	return c
}

// Record implements session.ActivitySink.
func (c *Collector) Record(_ context.Context, event session.ActivityEvent) error {
	c.activity.WithLabelValues(
		activitymap.ObjectType(event.EventType),
		string(event.EventType),
		activitymap.Outcome(event.EventType),
	).Inc()
	return nil
}

// RecordContact counts a contact submission. result is "accepted",
// "rejected" or "rate_limited".
func (c *Collector) RecordContact(result string) {
	c.contact.WithLabelValues(result).Inc()
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.status.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetVisitors reports the number of live visitor managers.
func (c *Collector) SetVisitors(n int) {
	c.visitors.Set(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
