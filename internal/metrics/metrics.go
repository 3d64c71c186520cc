package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the provider's prometheus metrics
type Collectors struct {
	gatherer prometheus.Gatherer

	tokensIssued       *prometheus.CounterVec
	redemptionFailures *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// New registers the collectors on reg
func New(reg *prometheus.Registry) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		gatherer: reg,
		tokensIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_tokens_issued_total",
				Help: "Tokens issued by the token endpoint",
			},
			[]string{"grant_type", "kind"},
		),
		redemptionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oidc_redemption_failures_total",
				Help: "Failed redemptions of codes and refresh tokens",
			},
			[]string{"artifact", "reason"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oidc_http_request_duration_seconds",
				Help:    "HTTP request latency by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
	}
}

func (c *Collectors) TokenIssued(grantType, kind string) {
	c.tokensIssued.WithLabelValues(grantType, kind).Inc()
}

func (c *Collectors) RedemptionFailed(artifact, reason string) {
	c.redemptionFailures.WithLabelValues(artifact, reason).Inc()
}

func (c *Collectors) ObserveRequest(route, status string, elapsed time.Duration) {
	c.requestDuration.WithLabelValues(route, status).Observe(elapsed.Seconds())
}

// Handler exposes the registry in the prometheus text format
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
