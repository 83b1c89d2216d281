package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
// A nil *MetricsService is valid and records nothing.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	signupTotal     prometheus.Counter
	loginTotal      *prometheus.CounterVec
	rotationTotal   prometheus.Counter
	reuseRejected   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	signupTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_signups_total",
		Help: "Total number of successful account registrations",
	})

	loginTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Total number of login attempts by outcome",
	}, []string{"outcome"})

	rotationTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Total number of successful refresh-token rotations",
	})

	reuseRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_rejected_total",
		Help: "Total number of refresh attempts rejected because the credential was already rotated, revoked, or expired",
	})

	registry.MustRegister(requestDuration, requestTotal, signupTotal, loginTotal, rotationTotal, reuseRejected)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		signupTotal:     signupTotal,
		loginTotal:      loginTotal,
		rotationTotal:   rotationTotal,
		reuseRejected:   reuseRejected,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return nil
	}
	return m.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	m.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(labels...).Inc()
}

// IncSignup records a successful registration.
func (m *MetricsService) IncSignup() {
	if m == nil {
		return
	}
	m.signupTotal.Inc()
}

// IncLogin records a login attempt.
func (m *MetricsService) IncLogin(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.loginTotal.WithLabelValues(outcome).Inc()
}

// IncRefreshRotation records a successful rotation.
func (m *MetricsService) IncRefreshRotation() {
	if m == nil {
		return
	}
	m.rotationTotal.Inc()
}

// IncRefreshReuseRejected records a rejected reuse of a consumed credential.
func (m *MetricsService) IncRefreshReuseRejected() {
	if m == nil {
		return
	}
	m.reuseRejected.Inc()
}
