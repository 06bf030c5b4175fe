package observability

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// GeofenceCollector bundles the Prometheus metrics of the geofence daemon and
// provides helpers to wire them into HTTP handlers and gRPC servers.
type GeofenceCollector struct {
	gatherer prometheus.Gatherer

	ZonesLoaded     prometheus.Gauge
	SnapshotVersion prometheus.Gauge

	Classifications  *prometheus.CounterVec
	AlertsEmitted    *prometheus.CounterVec
	AlertsSuppressed *prometheus.CounterVec
	AlertsCleared    prometheus.Counter
	LedgerEntries    prometheus.Gauge
	LedgerEvictions  prometheus.Counter
	StreamClients    prometheus.Gauge

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
	RPCRequests   *prometheus.CounterVec
	RPCDurations  *prometheus.HistogramVec
}

var latencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// NewGeofenceCollector registers the daemon metrics against reg, defaulting
// to the global Prometheus registry when nil.
func NewGeofenceCollector(reg prometheus.Registerer) (*GeofenceCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &GeofenceCollector{gatherer: gatherer}
	var err error

	if c.ZonesLoaded, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "geofence_zones_loaded",
		Help: "Number of zones in the current snapshot.",
	}); err != nil {
		return nil, err
	}
	if c.SnapshotVersion, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "geofence_zone_snapshot_version",
		Help: "Version of the current zone snapshot.",
	}); err != nil {
		return nil, err
	}
	if c.Classifications, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "geofence_classifications_total",
		Help: "Classifications performed, labeled by mode (containment, proximity, route, flight_request) and result.",
	}, "mode", "result"); err != nil {
		return nil, err
	}
	if c.AlertsEmitted, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "geofence_alerts_emitted_total",
		Help: "Proximity alerts that passed the debouncer, labeled by severity.",
	}, "severity"); err != nil {
		return nil, err
	}
	if c.AlertsSuppressed, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "geofence_alerts_suppressed_total",
		Help: "Proximity alerts held back by the debouncer, labeled by severity.",
	}, "severity"); err != nil {
		return nil, err
	}
	if c.AlertsCleared, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "geofence_alerts_cleared_total",
		Help: "Subject/zone pairs that stopped alerting.",
	}); err != nil {
		return nil, err
	}
	if c.LedgerEntries, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "geofence_ledger_entries",
		Help: "Entries currently held in the debounce ledger.",
	}); err != nil {
		return nil, err
	}
	if c.LedgerEvictions, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "geofence_ledger_evictions_total",
		Help: "Debounce ledger entries evicted after going idle.",
	}); err != nil {
		return nil, err
	}
	if c.StreamClients, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "geofence_stream_clients",
		Help: "WebSocket clients subscribed to the alert stream.",
	}); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "geofence_http_requests_total",
		Help: "HTTP requests handled, labeled by route and status code.",
	}, "route", "code"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.HistogramOpts{
		Name:    "geofence_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: latencyBuckets,
	}, "route"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, "service", "method", "code"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = registerHistogramVec(reg, prometheus.HistogramOpts{
		Name:    "grpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: latencyBuckets,
	}, "service", "method"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the gatherer the collector exposes.
func (c *GeofenceCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *GeofenceCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// SetZoneSnapshot records the size and version of a freshly loaded snapshot.
func (c *GeofenceCollector) SetZoneSnapshot(version uint64, zones int) {
	if c == nil {
		return
	}
	c.ZonesLoaded.Set(float64(zones))
	c.SnapshotVersion.Set(float64(version))
}

// ObserveClassification counts one classification.
func (c *GeofenceCollector) ObserveClassification(mode string, intersected bool) {
	if c == nil {
		return
	}
	result := "clear"
	if intersected {
		result = "intersected"
	}
	c.Classifications.WithLabelValues(mode, result).Inc()
}

// AlertEmitted counts an alert that passed the debouncer.
func (c *GeofenceCollector) AlertEmitted(severity string) {
	if c == nil {
		return
	}
	c.AlertsEmitted.WithLabelValues(severity).Inc()
}

// AlertSuppressed counts an alert held back by the debouncer.
func (c *GeofenceCollector) AlertSuppressed(severity string) {
	if c == nil {
		return
	}
	c.AlertsSuppressed.WithLabelValues(severity).Inc()
}

// AlertCleared counts a pair that stopped alerting.
func (c *GeofenceCollector) AlertCleared() {
	if c == nil {
		return
	}
	c.AlertsCleared.Inc()
}

// ObserveLedger records the ledger size after an eviction sweep.
func (c *GeofenceCollector) ObserveLedger(entries, evicted int) {
	if c == nil {
		return
	}
	c.LedgerEntries.Set(float64(entries))
	if evicted > 0 {
		c.LedgerEvictions.Add(float64(evicted))
	}
}

// SetStreamClients records the number of connected stream clients.
func (c *GeofenceCollector) SetStreamClients(n int) {
	if c == nil {
		return
	}
	c.StreamClients.Set(float64(n))
}

// InstrumentHTTP wraps next with request counting and latency measurement
// under the given route label.
func (c *GeofenceCollector) InstrumentHTTP(route string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		c.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		c.HTTPDurations.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *GeofenceCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and
// method components, returning "unknown" for parts it cannot find.
func SplitMethod(fullMethod string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// statusRecorder captures the status code written by a handler. It keeps
// http.Hijacker reachable so WebSocket upgrades still work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	// A hijacked connection reports as a protocol switch.
	r.status = http.StatusSwitchingProtocols
	r.wroteHeader = true
	return h.Hijack()
}
