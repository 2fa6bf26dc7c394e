package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	SegmentRequests     *prometheus.CounterVec
	HTTPRequestTotal    *prometheus.CounterVec
	SegmentResponseTime *prometheus.HistogramVec
	OriginFetches       *prometheus.CounterVec
	SeederSegments      *prometheus.CounterVec
	SignallingMessages  *prometheus.CounterVec
	SignallingSessions  prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		SegmentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segment_requests_total",
			Help: "Total number of segment requests served by the seeder, by source and outcome.",
		}, []string{"source", "status"}),
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests received by the node per endpoint.",
		}, []string{"method", "status", "route"}),
		SegmentResponseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:                           "segment_response_time_seconds",
			Help:                           "Histogram of segment response times for different sources.",
			NativeHistogramBucketFactor:    2,
			NativeHistogramMaxBucketNumber: 25,
		}, []string{"source"}),
		OriginFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_fetches_total",
			Help: "Origin fallback fetch outcomes.",
		}, []string{"result"}),
		SeederSegments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seeder_segments_total",
			Help: "Segments processed by seeder maintenance, by action.",
		}, []string{"action"}),
		SignallingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalling_messages_total",
			Help: "Inbound signalling messages by type and outcome.",
		}, []string{"type", "status"}),
		SignallingSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalling_sessions",
			Help: "Websocket sessions currently connected to this instance.",
		}),
	}
}

func (m *Metrics) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.SegmentRequests,
		m.HTTPRequestTotal,
		m.SegmentResponseTime,
		m.OriginFetches,
		m.SeederSegments,
		m.SignallingMessages,
		m.SignallingSessions,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes registry on /metrics.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

type statusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.Status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware counts requests by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(rec, req)

		route := req.URL.Path
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.HTTPRequestTotal.WithLabelValues(req.Method, strconv.Itoa(rec.Status), route).Inc()
	})
}
