package middleware

import (
	"context"
	"strconv"
	"time"

	"foreign-oracle/message"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts calls and observes their latency per method. Outcome is
// "ok" or the fault code.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oracle",
				Subsystem: "rpc",
				Name:      "calls_total",
				Help:      "Total number of JSON-RPC calls by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "oracle",
				Subsystem: "rpc",
				Name:      "call_duration_seconds",
				Help:      "JSON-RPC call duration in seconds.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method"},
		),
	}
}

// UnknownMethod is the method label recorded for names known reports false,
// so callers cannot grow the label set.
const UnknownMethod = "unknown"

// Middleware records one observation per call. Methods for which known
// returns false are recorded as UnknownMethod; a nil known keeps every name.
func (m *Metrics) Middleware(known func(method string) bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			outcome := "ok"
			if resp != nil && resp.Error != nil {
				outcome = strconv.Itoa(resp.Error.Code)
			}
			method := req.Method
			if known != nil && !known(method) {
				method = UnknownMethod
			}
			m.calls.WithLabelValues(method, outcome).Inc()
			m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			return resp
		}
	}
}
