// Package eventstream delivers lightweight real-time notifications keyed by
// customer id. Delivery is best-effort; slow subscribers drop events.
package eventstream

import (
	"context"
	"errors"
	"time"
)

// Event is what UI subscribers receive.
type Event struct {
	Name       string         `json:"name"`
	SubjectID  string         `json:"subject_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher fans an event out to the subscribers of its subject.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidSubject = errors.New("invalid_subject")
	ErrInvalidEvent   = errors.New("invalid_event")
)
