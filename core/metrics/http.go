package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/docrelay/core/handler"
)

// HTTPMetrics records request counts and latency per route pattern.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlight        prometheus.Gauge
}

// NewHTTPMetrics creates and registers HTTP metrics on reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status_code"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status_code"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of HTTP requests currently being processed.",
		}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlight)
	return m
}

type statusWriter interface {
	Status() int
}

type statusCoder interface {
	StatusCode() int
}

// Middleware records metrics for every routed request. The route label is
// the matched pattern, so path parameters do not explode cardinality.
func Middleware[C handler.Context](m *HTTPMetrics) handler.Middleware[C] {
	return func(next handler.HandlerFunc[C]) handler.HandlerFunc[C] {
		return func(ctx C) handler.Response {
			timer := prometheus.NewTimer(nil)

			resp := next(ctx)
			if resp == nil {
				return nil
			}
			return func(w http.ResponseWriter, r *http.Request) error {
				m.InFlight.Inc()
				defer m.InFlight.Dec()

				err := resp(w, r)

				status := responseStatus(w, err)
				labels := []string{r.Method, routeLabel(r), strconv.Itoa(status)}
				m.RequestDuration.WithLabelValues(labels...).Observe(timer.ObserveDuration().Seconds())
				m.RequestsTotal.WithLabelValues(labels...).Inc()
				return err
			}
		}
	}
}

func responseStatus(w http.ResponseWriter, err error) int {
	if err != nil {
		var sc statusCoder
		if errors.As(err, &sc) {
			return sc.StatusCode()
		}
		return http.StatusInternalServerError
	}
	if sw, ok := w.(statusWriter); ok && sw.Status() != 0 {
		return sw.Status()
	}
	return http.StatusOK
}

func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}
