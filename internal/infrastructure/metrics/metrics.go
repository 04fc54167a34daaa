package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-ota/internal/firmware"
)

const namespace = "ota"

// SlotSource reports transfer slot usage. *firmware.Limiter satisfies it.
type SlotSource interface {
	InUse() int
	Capacity() int
}

// Metrics owns a Prometheus registry and the OTA collectors on it.
// It implements firmware.Observer.
type Metrics struct {
	registry *prometheus.Registry

	checksTotal     *prometheus.CounterVec
	checkDuration   prometheus.Histogram
	installsTotal   *prometheus.CounterVec
	installDuration prometheus.Histogram
	progress        *prometheus.GaugeVec
	activeInstalls  prometheus.Gauge
	updatesAvail    prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	mu        sync.Mutex
	active    map[string]bool
	available map[string]bool
}

// New creates the collectors and registers them, plus Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "firmware", Name: "checks_total",
			Help: "Completed firmware update checks by outcome",
		}, []string{"outcome"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "firmware", Name: "check_duration_seconds",
			Help:    "Duration of firmware update checks",
			Buckets: prometheus.DefBuckets,
		}),
		installsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "firmware", Name: "installs_total",
			Help: "Finished firmware installs by status",
		}, []string{"status"}),
		installDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "firmware", Name: "install_duration_seconds",
			Help: "Duration of firmware installs",
			// Installs over a mesh take minutes; battery nodes can take hours.
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200, 14400},
		}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "firmware", Name: "install_progress_percent",
			Help: "Progress of running installs",
		}, []string{"device_id"}),
		activeInstalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "firmware", Name: "installs_active",
			Help: "Devices with an install in progress",
		}),
		updatesAvail: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "firmware", Name: "updates_available",
			Help: "Devices advertising a newer firmware version",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"path", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
		active:    make(map[string]bool),
		available: make(map[string]bool),
	}

	m.registry.MustRegister(
		m.checksTotal, m.checkDuration,
		m.installsTotal, m.installDuration,
		m.progress, m.activeInstalls, m.updatesAvail,
		m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterSlots exposes transfer slot usage as gauges read at scrape time.
func (m *Metrics) RegisterSlots(src SlotSource) {
	opts := func(state string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "firmware", Name: "transfer_slots",
			Help:        "Shared transfer slots",
			ConstLabels: prometheus.Labels{"state": state},
		}
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(opts("in_use"), func() float64 { return float64(src.InUse()) }),
		prometheus.NewGaugeFunc(opts("capacity"), func() float64 { return float64(src.Capacity()) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StateChanged implements firmware.Observer.
func (m *Metrics) StateChanged(snap firmware.Snapshot) {
	if snap.InProgress {
		m.progress.WithLabelValues(snap.DeviceID).Set(float64(snap.Progress))
	} else {
		m.progress.DeleteLabelValues(snap.DeviceID)
	}

	m.mu.Lock()
	setMember(m.active, snap.DeviceID, snap.InProgress)
	setMember(m.available, snap.DeviceID, snap.UpdateAvailable)
	active, available := len(m.active), len(m.available)
	m.mu.Unlock()

	m.activeInstalls.Set(float64(active))
	m.updatesAvail.Set(float64(available))
}

// CheckCompleted implements firmware.Observer.
func (m *Metrics) CheckCompleted(result firmware.CheckResult) {
	m.checksTotal.WithLabelValues(result.Outcome()).Inc()
	m.checkDuration.Observe(result.Duration.Seconds())
}

// InstallCompleted implements firmware.Observer.
func (m *Metrics) InstallCompleted(report firmware.InstallReport) {
	status := firmware.InstallStatusCompleted
	if !report.Succeeded() {
		status = firmware.InstallStatusFailed
	}
	m.installsTotal.WithLabelValues(status).Inc()
	m.installDuration.Observe(report.CompletedAt.Sub(report.StartedAt).Seconds())
}

// Forget drops per-device series for a removed device.
func (m *Metrics) Forget(deviceID string) {
	m.progress.DeleteLabelValues(deviceID)
	m.mu.Lock()
	delete(m.active, deviceID)
	delete(m.available, deviceID)
	active, available := len(m.active), len(m.available)
	m.mu.Unlock()
	m.activeInstalls.Set(float64(active))
	m.updatesAvail.Set(float64(available))
}

func setMember(set map[string]bool, key string, in bool) {
	if in {
		set[key] = true
	} else {
		delete(set, key)
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Hijack passes WebSocket upgrades through to the underlying writer.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware instruments requests. Paths are labelled by chi route
// pattern to keep label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		path := routePatternOrPath(r)
		status := strconv.Itoa(sr.status)
		m.httpRequests.WithLabelValues(path, r.Method, status).Inc()
		m.httpDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the matched chi route pattern, falling back
// to the URL path outside a chi router.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
