package tracker

import (
	"context"
	"errors"

	"github.com/skyguard/geofence/internal/alert"
	"github.com/skyguard/geofence/model"
)

// NoticeType distinguishes raised alerts from cleared pairs.
type NoticeType string

const (
	NoticeAlert NoticeType = "proximity_alert"
	NoticeClear NoticeType = "proximity_clear"
)

// Source says who raised an alert.
type Source string

const (
	SourceEngine  Source = "engine"
	SourceBackend Source = "backend"
)

// Notice is what the tracker publishes. For NoticeClear the embedded alert
// carries the last severity seen for the pair and the time it cleared.
type Notice struct {
	Type NoticeType `json:"type"`
	model.ProximityAlert
	Source Source       `json:"source"`
	Reason alert.Reason `json:"reason,omitempty"`
}

// Sink receives notices.
type Sink interface {
	Publish(ctx context.Context, n Notice) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notice) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, n Notice) error { return f(ctx, n) }

// MultiSink fans a notice out to every sink, continuing past failures.
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(ctx context.Context, n Notice) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
