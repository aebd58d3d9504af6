// Package metrics exposes Prometheus counters for the invitation lifecycle,
// the background jobs and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// Collector records every metric of the service. Its methods satisfy the
// Recorder interfaces of the invite, sweeper, stats, activity and notify
// packages.
type Collector struct {
	invitationsCreated *prometheus.CounterVec
	invitationsClosed  *prometheus.CounterVec
	operationFailures  *prometheus.CounterVec
	invitationsExpired prometheus.Counter
	sweepDuration      prometheus.Histogram
	sweepFailures      prometheus.Counter
	statsRecalculated  *prometheus.CounterVec
	activityLogged     *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		invitationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "almostout_invitations_created_total",
			Help: "Invitations created, by granted role.",
		}, []string{"role"}),
		invitationsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "almostout_invitations_closed_total",
			Help: "Invitations that reached a terminal state through the API.",
		}, []string{"status"}),
		operationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "almostout_invitation_failures_total",
			Help: "Failed invitation operations, by operation and error kind.",
		}, []string{"op", "kind"}),
		invitationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "almostout_invitations_expired_total",
			Help: "Invitations expired by the sweeper.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "almostout_sweep_duration_seconds",
			Help:    "Duration of expiry sweeps.",
			Buckets: prometheus.DefBuckets,
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "almostout_sweep_failures_total",
			Help: "Expiry sweeps that ended with an error.",
		}),
		statsRecalculated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "almostout_stats_recalculations_total",
			Help: "List statistics recalculations, by result.",
		}, []string{"result"}),
		activityLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "almostout_activity_entries_total",
			Help: "Activity log entries, by type and result.",
		}, []string{"type", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "almostout_notifications_total",
			Help: "Push deliveries, by channel and result.",
		}, []string{"channel", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "almostout_http_requests_total",
			Help: "HTTP requests, by route and status code.",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "almostout_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		c.invitationsCreated,
		c.invitationsClosed,
		c.operationFailures,
		c.invitationsExpired,
		c.sweepDuration,
		c.sweepFailures,
		c.statsRecalculated,
		c.activityLogged,
		c.notifications,
		c.httpRequests,
		c.httpLatency,
	)
	return c
}

// InvitationCreated counts a new invitation.
func (c *Collector) InvitationCreated(role entity.Role) {
	c.invitationsCreated.WithLabelValues(string(role)).Inc()
}

// InvitationClosed counts a terminal transition.
func (c *Collector) InvitationClosed(status entity.Status) {
	c.invitationsClosed.WithLabelValues(status.String()).Inc()
}

// OperationFailed counts a failed engine operation.
func (c *Collector) OperationFailed(op, kind string) {
	c.operationFailures.WithLabelValues(op, kind).Inc()
}

// InvitationsExpired counts invitations moved to expired.
func (c *Collector) InvitationsExpired(n int) {
	c.invitationsExpired.Add(float64(n))
}

// SweepCompleted records a sweep run.
func (c *Collector) SweepCompleted(d time.Duration, err error) {
	c.sweepDuration.Observe(d.Seconds())
	if err != nil {
		c.sweepFailures.Inc()
	}
}

// StatsRecalculated counts a recalculation.
func (c *Collector) StatsRecalculated(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.statsRecalculated.WithLabelValues(result).Inc()
}

// ActivityLogged counts an activity entry write.
func (c *Collector) ActivityLogged(typ entity.ActivityType, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.activityLogged.WithLabelValues(string(typ), result).Inc()
}

// NotificationsSent counts deliveries on a channel.
func (c *Collector) NotificationsSent(channel string, sent, failed int) {
	c.notifications.WithLabelValues(channel, "sent").Add(float64(sent))
	c.notifications.WithLabelValues(channel, "failed").Add(float64(failed))
}

// ObserveRequest records an HTTP request. route is the matched pattern, not
// the raw path, to keep cardinality bounded.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
