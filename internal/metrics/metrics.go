// Package metrics provides Prometheus instrumentation for the margin engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PositionsTotal counts open/close operations, partitioned by class,
	// action and outcome.
	PositionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_positions_total",
		Help: "Total number of position operations",
	}, []string{"class", "action", "result"})

	// PositionLatency tracks engine latency of open/close operations.
	PositionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margin_position_latency_seconds",
		Help:    "Position operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// PriceUpdatesTotal counts oracle price pushes per pair.
	PriceUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_price_updates_total",
		Help: "Total number of oracle price updates",
	}, []string{"pair"})

	// ExchangesTotal counts currency conversions per pair.
	ExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_exchanges_total",
		Help: "Total number of currency conversions",
	}, []string{"pair"})

	// ClassTokenPrice tracks the latest token price per class.
	ClassTokenPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margin_class_token_price",
		Help: "Latest token price of a leveraged class in base currency",
	}, []string{"class"})

	// ClassBankrupt is 1 while a class is halted for bankruptcy.
	ClassBankrupt = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margin_class_bankrupt",
		Help: "Whether a leveraged class is halted as bankrupt (1) or not (0)",
	}, []string{"class"})

	// LimitRejections counts opens rejected by the exposure limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_limit_rejections_total",
		Help: "Opens rejected by the exposure limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "margin_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margin_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency, labelled by the chi route
// pattern so that account and class IDs do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// ObservePosition records the outcome and latency of an open or close.
func ObservePosition(class, action string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	PositionsTotal.WithLabelValues(class, action, result).Inc()
	PositionLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
