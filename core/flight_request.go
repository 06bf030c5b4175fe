package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/skyguard/geofence/model"
)

// PendingStatus is the only status a flight request may carry when it is
// checked before submission.
const PendingStatus = "pending"

// FlightRequest is the flight-application payload submitted to the backend.
// The longitude key keeps the backend's spelling.
type FlightRequest struct {
	StartDate  string       `json:"start_date"`
	EndDate    string       `json:"end_date"`
	DroneID    model.FlexID `json:"drone_id"`
	Latitude   float64      `json:"latitude"`
	Longtitude float64      `json:"longtitude"`
	Altitude   float64      `json:"altitude"`
	Status     string       `json:"status"`
}

// UnmarshalJSON rejects requests that omit the destination coordinates.
func (r *FlightRequest) UnmarshalJSON(data []byte) error {
	if err := model.RequireCoordinates(data, "longtitude"); err != nil {
		return err
	}
	type plain FlightRequest
	return json.Unmarshal(data, (*plain)(r))
}

// Candidate returns the planning-time position of the request.
func (r FlightRequest) Candidate() model.Position {
	return model.Position{
		SubjectID: model.CandidateSubject,
		Latitude:  r.Latitude,
		Longitude: r.Longtitude,
		Altitude:  model.Float64(r.Altitude),
	}
}

// FlightLimits bounds what a flight request may ask for.
type FlightLimits struct {
	MinAltitude float64
	MaxAltitude float64
}

// DefaultFlightLimits mirrors the permit rules: 0 to 500 metres.
func DefaultFlightLimits() FlightLimits {
	return FlightLimits{MinAltitude: 0, MaxAltitude: 500}
}

// FlightRequestVerdict is the pre-submission outcome for a flight request.
type FlightRequestVerdict struct {
	Approved       bool                       `json:"approved"`
	Reason         string                     `json:"reason,omitempty"`
	Classification model.ClassificationResult `json:"classification"`
	Route          *RouteVerdict              `json:"route,omitempty"`
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// CheckFlightRequest runs Classifier.CheckFlightRequest with the baseline
// classifier.
func CheckFlightRequest(req FlightRequest, base *model.LatLon, zones []model.Zone, limits FlightLimits) (FlightRequestVerdict, error) {
	return Classifier{}.CheckFlightRequest(req, base, zones, limits)
}

// CheckFlightRequest validates a flight request and checks its candidate
// point, plus the straight leg from base when base is non-nil, against the
// zone snapshot. Malformed payloads return ErrValidation; a well-formed
// request that conflicts with a zone or with the limits returns a verdict
// with Approved=false and a reason. Zones the classifier deems inapplicable
// at the requested altitude are ignored for the leg as well.
func (c Classifier) CheckFlightRequest(req FlightRequest, base *model.LatLon, zones []model.Zone, limits FlightLimits) (FlightRequestVerdict, error) {
	if !strings.EqualFold(strings.TrimSpace(req.Status), PendingStatus) {
		return FlightRequestVerdict{}, fmt.Errorf("%w: status must be %q, got %q", ErrValidation, PendingStatus, req.Status)
	}
	if strings.TrimSpace(req.DroneID.String()) == "" {
		return FlightRequestVerdict{}, fmt.Errorf("%w: drone_id is required", ErrValidation)
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		return FlightRequestVerdict{}, err
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		return FlightRequestVerdict{}, err
	}
	if end.Before(start) {
		return FlightRequestVerdict{}, fmt.Errorf("%w: end_date %s is before start_date %s", ErrValidation, req.EndDate, req.StartDate)
	}
	if !isFinite(req.Altitude) {
		return FlightRequestVerdict{}, fmt.Errorf("%w: altitude must be finite", ErrValidation)
	}

	candidate := req.Candidate()
	classification, err := c.Classify(candidate, zones)
	if err != nil {
		return FlightRequestVerdict{}, err
	}
	verdict := FlightRequestVerdict{Approved: true, Classification: classification}

	if req.Altitude < limits.MinAltitude || req.Altitude > limits.MaxAltitude {
		verdict.Approved = false
		verdict.Reason = fmt.Sprintf("invalid altitude: %.1f meters, allowed range %.0f-%.0f meters",
			req.Altitude, limits.MinAltitude, limits.MaxAltitude)
		return verdict, nil
	}

	if classification.HasIntersection {
		hit := classification.IntersectedZones[0]
		verdict.Approved = false
		verdict.Reason = fmt.Sprintf("destination lies inside restricted zone %q (%.1f m from center, radius %.0f m)",
			zoneLabel(hit.Zone), hit.DistanceMeters, hit.Zone.RadiusMeters)
		return verdict, nil
	}

	if base != nil {
		route, err := CheckRoute([]model.LatLon{*base, candidate.LatLon()}, c.applicable(candidate, zones))
		if err != nil {
			return FlightRequestVerdict{}, fmt.Errorf("base location: %w", err)
		}
		verdict.Route = &route
		if !route.Clear {
			v := route.Violations[0]
			verdict.Approved = false
			verdict.Reason = fmt.Sprintf("flight path passes through restricted zone %q", labelOr(v.ZoneName, v.ZoneID))
		}
	}
	return verdict, nil
}

func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %q is not a date", ErrValidation, field, value)
}

func zoneLabel(z model.Zone) string { return labelOr(z.Name, z.ID) }

func labelOr(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
