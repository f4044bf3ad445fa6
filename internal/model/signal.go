package model

import (
	"fmt"
	"time"
)

// SignalKind is the type of externally observed change.
type SignalKind string

const (
	SignalReplied   SignalKind = "replied"
	SignalConnected SignalKind = "connected"
	SignalWithdrawn SignalKind = "withdrawn"
	SignalBounced   SignalKind = "bounced"
)

// ParseSignalKind validates a kind name.
func ParseSignalKind(s string) (SignalKind, error) {
	switch k := SignalKind(s); k {
	case SignalReplied, SignalConnected, SignalWithdrawn, SignalBounced:
		return k, nil
	}
	return "", fmt.Errorf("unknown signal kind %q", s)
}

// Rank orders signal kinds for precedence: withdrawn/bounced outrank
// replied/connected, which outrank no signal at all.
func (k SignalKind) Rank() int {
	switch k {
	case SignalWithdrawn, SignalBounced:
		return 2
	case SignalReplied, SignalConnected:
		return 1
	}
	return 0
}

// SignalEvent is one external observation about a prospect.
type SignalEvent struct {
	ID         string     `json:"id"`
	ProspectID string     `json:"prospect_id"`
	Kind       SignalKind `json:"kind"`
	ObservedAt time.Time  `json:"observed_at"`
	Source     string     `json:"source,omitempty"`
}

// NewSignalEvent builds an event with its content-addressed ID.
func NewSignalEvent(prospectID string, kind SignalKind, observedAt time.Time, source string) SignalEvent {
	observedAt = observedAt.UTC().Truncate(time.Second)
	return SignalEvent{
		ID:         SignalID(prospectID, kind, observedAt),
		ProspectID: prospectID,
		Kind:       kind,
		ObservedAt: observedAt,
		Source:     source,
	}
}

// Validate checks the required fields.
func (e SignalEvent) Validate() error {
	if e.ProspectID == "" {
		return fmt.Errorf("signal: prospect id is required")
	}
	if _, err := ParseSignalKind(string(e.Kind)); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	if e.ObservedAt.IsZero() {
		return fmt.Errorf("signal: observed_at is required")
	}
	return nil
}

// WithID fills in the content-addressed ID if the producer left it empty.
func (e SignalEvent) WithID() SignalEvent {
	if e.ID == "" {
		e.ObservedAt = e.ObservedAt.UTC().Truncate(time.Second)
		e.ID = SignalID(e.ProspectID, e.Kind, e.ObservedAt)
	}
	return e
}
