// Package api exposes the geofence engine over HTTP: zone snapshot
// management, stateless classification queries, the event intake feeding
// the tracker and the alert stream.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.opentelemetry.io/otel/trace"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/internal/logging"
	"github.com/skyguard/geofence/internal/observability"
	"github.com/skyguard/geofence/internal/tracker"
	"github.com/skyguard/geofence/model"
	"github.com/skyguard/geofence/zoneindex"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the base logger for request logging.
func WithLogger(log logging.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(c *observability.GeofenceCollector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithStream mounts h at /v1/alerts/stream.
func WithStream(h http.Handler) Option {
	return func(s *Server) { s.stream = h }
}

// WithBase sets the base location used as the start of the straight leg
// when checking flight requests.
func WithBase(base model.LatLon) Option {
	return func(s *Server) { s.base = &base }
}

// WithFlightLimits overrides the altitude limits for flight requests.
func WithFlightLimits(l core.FlightLimits) Option {
	return func(s *Server) { s.limits = l }
}

// Server routes HTTP requests onto the zone index and the tracker.
type Server struct {
	index   *zoneindex.Index
	tracker *tracker.Tracker
	stream  http.Handler
	metrics *observability.GeofenceCollector
	log     logging.Logger
	tracer  trace.Tracer
	base    *model.LatLon
	limits  core.FlightLimits
	router  *httprouter.Router
}

// New builds a Server over index and trk.
func New(index *zoneindex.Index, trk *tracker.Tracker, opts ...Option) (*Server, error) {
	if index == nil {
		return nil, errors.New("api: zone index is required")
	}
	if trk == nil {
		return nil, errors.New("api: tracker is required")
	}
	s := &Server{
		index:   index,
		tracker: trk,
		log:     logging.Noop(),
		tracer:  observability.Tracer(),
		limits:  core.DefaultFlightLimits(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *httprouter.Router {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		logging.FromContext(r.Context(), s.log).Error(r.Context(), "handler panicked",
			logging.String("panic", fmt.Sprint(v)),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}

	handle := func(method, path string, h http.HandlerFunc) {
		router.Handler(method, path, s.middleware(path, h))
	}

	handle(http.MethodGet, "/healthz", s.handleHealth)

	handle(http.MethodPut, "/v1/zones", s.handleLoadZones)
	handle(http.MethodGet, "/v1/zones", s.handleListZones)
	handle(http.MethodGet, "/v1/zones/:id", s.handleGetZone)
	handle(http.MethodGet, "/v1/zones/:id/distance", s.handleDistance)

	handle(http.MethodPost, "/v1/classify", s.handleClassify)
	handle(http.MethodPost, "/v1/proximity", s.handleProximity)
	handle(http.MethodPost, "/v1/routes/check", s.handleCheckRoute)
	handle(http.MethodPost, "/v1/flight-requests/check", s.handleCheckFlightRequest)

	handle(http.MethodPost, "/v1/events", s.handleEvent)
	handle(http.MethodPost, "/v1/positions", s.handleObserve)
	handle(http.MethodGet, "/v1/subjects", s.handleListSubjects)
	handle(http.MethodGet, "/v1/subjects/:id", s.handleGetSubject)
	handle(http.MethodGet, "/v1/subjects/:id/alerts", s.handleSubjectAlerts)

	if s.stream != nil {
		router.Handler(http.MethodGet, "/v1/alerts/stream", s.middleware("/v1/alerts/stream", s.stream))
	}
	if s.metrics != nil {
		router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return router
}

func param(r *http.Request, name string) string {
	return httprouter.ParamsFromContext(r.Context()).ByName(name)
}
