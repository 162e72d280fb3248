// Package events publishes chart set lifecycle events.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const envelopeVersion = "1"

const (
	TypeSubmitted    = "chartset.submitted"
	TypeUpdated      = "chartset.updated"
	TypeNominated    = "chartset.nominated"
	TypeQualified    = "chartset.qualified"
	TypeDisqualified = "chartset.disqualified"
	TypeReset        = "chartset.reset"
	TypeRanked       = "chartset.ranked"
	TypePostCreated  = "chartset.post_created"
)

// Envelope wraps every published event.
type Envelope struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Version    string         `json:"version"`
	OccurredAt time.Time      `json:"occurredAt"`
	SetID      int64          `json:"setId"`
	ActorID    int64          `json:"actorId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewEnvelope stamps a new envelope with a ULID and the current version.
func NewEnvelope(eventType string, setID, actorID int64, occurredAt time.Time, payload map[string]any) Envelope {
	return Envelope{
		ID:         ulid.Make().String(),
		Type:       eventType,
		Version:    envelopeVersion,
		OccurredAt: occurredAt.UTC(),
		SetID:      setID,
		ActorID:    actorID,
		Payload:    payload,
	}
}

// Subject maps the event type onto the "chartsets." subject hierarchy.
func (e Envelope) Subject() string {
	return "chartsets." + strings.TrimPrefix(e.Type, "chartset.")
}

// Publisher delivers envelopes to interested parties.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, envelope Envelope) error
	Close() error
}

// Noop drops every envelope.
type Noop struct{}

func (Noop) Connect(context.Context) error { return nil }
func (Noop) Publish(context.Context, Envelope) error { return nil }
func (Noop) Close() error { return nil }
