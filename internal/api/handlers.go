package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/internal/events"
	"github.com/skyguard/geofence/internal/logging"
	"github.com/skyguard/geofence/model"
	"github.com/skyguard/geofence/zoneindex"
)

// Classification modes reported to the metrics collector.
const (
	modeClassify      = "containment"
	modeProximity     = "proximity"
	modeRoute         = "route"
	modeFlightRequest = "flight_request"
)

type healthResponse struct {
	Status       string `json:"status"`
	ZonesVersion uint64 `json:"zones_version"`
	Zones        int    `json:"zones"`
}

type zonesLoadedResponse struct {
	Version uint64 `json:"version"`
	Zones   int    `json:"zones"`
}

type distanceResponse struct {
	ZoneID         string  `json:"zone_id"`
	DistanceMeters float64 `json:"distance_meters"`
}

type proximityResponse struct {
	SubjectID    string                 `json:"subject_id"`
	BufferMeters float64                `json:"buffer_meters"`
	Entries      []model.ProximityEntry `json:"entries"`
}

type routeRequest struct {
	Waypoints []model.LatLon `json:"waypoints"`
}

type flightRequestCheck struct {
	core.FlightRequest
	Base *model.LatLon `json:"base,omitempty"`
}

// UnmarshalJSON decodes the request and the optional base from one object.
// The embedded request's own UnmarshalJSON would otherwise drop the base.
func (c *flightRequestCheck) UnmarshalJSON(data []byte) error {
	var extra struct {
		Base *model.LatLon `json:"base"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &c.FlightRequest); err != nil {
		return err
	}
	c.Base = extra.Base
	return nil
}

type eventAccepted struct {
	Type events.Kind `json:"type"`
}

type subjectAlertsResponse struct {
	SubjectID string                 `json:"subject_id"`
	Alerting  []model.ProximityEntry `json:"alerting"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.index.Snapshot()
	resp := healthResponse{Status: "ok", ZonesVersion: snap.Version, Zones: len(snap.Zones)}
	if snap.Version == 0 {
		resp.Status = "loading"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLoadZones replaces the zone snapshot. Backend DTO JSON is the
// default; application/geo+json bodies are read as a FeatureCollection.
func (s *Server) handleLoadZones(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var zones []model.Zone
	if isGeoJSON(r.Header.Get("Content-Type")) {
		zones, err = zoneindex.DecodeGeoJSONZones(bytes.NewReader(body))
	} else {
		zones, err = zoneindex.DecodeWireZones(bytes.NewReader(body))
	}
	if err == nil {
		err = s.index.Load(zones)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}

	version := s.index.Version()
	logging.FromContext(r.Context(), s.log).Info(r.Context(), "zone snapshot loaded",
		logging.Uint64("version", version),
		logging.Int("zones", len(zones)),
	)
	writeJSON(w, http.StatusOK, zonesLoadedResponse{Version: version, Zones: len(zones)})
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.index.Snapshot())
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	z, err := s.index.Zone(param(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (s *Server) handleDistance(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	id := param(r, "id")
	pos := model.Position{SubjectID: model.CandidateSubject, Latitude: lat, Longitude: lon}
	d, err := s.index.DistanceTo(pos, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, distanceResponse{ZoneID: id, DistanceMeters: d})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	pos, err := decodePosition(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	result, err := s.index.Classify(pos)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.metrics.ObserveClassification(modeClassify, result.HasIntersection)
	writeJSON(w, http.StatusOK, result)
}

// handleProximity grades the position against every zone within the
// buffer. The buffer defaults to the tracker's.
func (s *Server) handleProximity(w http.ResponseWriter, r *http.Request) {
	buffer := s.tracker.Buffer()
	if raw := r.URL.Query().Get("buffer"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("buffer: %v", err))
			return
		}
		buffer = v
	}

	pos, err := decodePosition(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	entries, err := s.index.Proximity(pos, buffer)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	inside := false
	for _, e := range entries {
		if e.Severity == model.SeverityInside {
			inside = true
			break
		}
	}
	s.metrics.ObserveClassification(modeProximity, inside)
	writeJSON(w, http.StatusOK, proximityResponse{
		SubjectID:    pos.SubjectID,
		BufferMeters: buffer,
		Entries:      entries,
	})
}

func (s *Server) handleCheckRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	verdict, err := core.CheckRoute(req.Waypoints, s.index.AllZones())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.metrics.ObserveClassification(modeRoute, !verdict.Clear)
	writeJSON(w, http.StatusOK, verdict)
}

// handleCheckFlightRequest checks a flight application before it is
// submitted. A base in the body overrides the configured one.
func (s *Server) handleCheckFlightRequest(w http.ResponseWriter, r *http.Request) {
	var req flightRequestCheck
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	base := s.base
	if req.Base != nil {
		base = req.Base
	}
	verdict, err := s.index.Classifier().CheckFlightRequest(req.FlightRequest, base, s.index.AllZones(), s.limits)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.metrics.ObserveClassification(modeFlightRequest, !verdict.Approved)
	writeJSON(w, http.StatusOK, verdict)
}

// handleEvent accepts one backend stream message and hands it to the
// tracker.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	ev, err := events.Decode(body)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.tracker.Handle(r.Context(), ev); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, eventAccepted{Type: ev.Kind()})
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	var pos model.Position
	if err := decodeJSON(r, &pos); err != nil {
		writeErr(w, r, err)
		return
	}
	obs, err := s.tracker.Observe(r.Context(), pos)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Subjects())
}

func (s *Server) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	st, err := s.tracker.Status(param(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSubjectAlerts(w http.ResponseWriter, r *http.Request) {
	id := param(r, "id")
	writeJSON(w, http.StatusOK, subjectAlertsResponse{SubjectID: id, Alerting: s.tracker.Active(id)})
}

// decodePosition reads a position body; a missing subject becomes the
// planning-time candidate.
func decodePosition(r *http.Request) (model.Position, error) {
	var pos model.Position
	if err := decodeJSON(r, &pos); err != nil {
		return model.Position{}, err
	}
	if strings.TrimSpace(pos.SubjectID) == "" {
		pos.SubjectID = model.CandidateSubject
	}
	return pos, nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, fmt.Errorf("%w: query parameter %q is required", core.ErrValidation, key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: query parameter %q: %v", core.ErrValidation, key, err)
	}
	return v, nil
}

func isGeoJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/geo+json"
}
