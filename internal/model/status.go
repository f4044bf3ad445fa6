package model

import "fmt"

// Status is a prospect's position in the outreach state machine.
type Status string

const (
	StatusPending      Status = "pending"
	StatusValidated    Status = "validated"
	StatusQueued       Status = "queued"
	StatusSent         Status = "sent"
	StatusAwaitingNext Status = "awaiting_next"
	StatusReplied      Status = "replied"
	StatusConnected    Status = "connected"
	StatusEnriching    Status = "enriching"
	StatusFailed       Status = "failed"
	StatusStopped      Status = "stopped"
	StatusCompleted    Status = "completed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusValidated,
	StatusQueued,
	StatusSent,
	StatusAwaitingNext,
	StatusReplied,
	StatusConnected,
	StatusEnriching,
	StatusFailed,
	StatusStopped,
	StatusCompleted,
}

// transitions is the adjacency list of the state machine.
// Terminal states have no entry.
var transitions = map[Status][]Status{
	StatusPending:      {StatusValidated, StatusEnriching, StatusFailed, StatusStopped},
	StatusValidated:    {StatusQueued, StatusStopped},
	StatusQueued:       {StatusSent, StatusQueued, StatusEnriching, StatusFailed, StatusStopped},
	StatusSent:         {StatusAwaitingNext, StatusCompleted},
	StatusAwaitingNext: {StatusQueued, StatusReplied, StatusConnected, StatusStopped, StatusCompleted},
	StatusReplied:      {StatusQueued, StatusReplied, StatusConnected, StatusStopped, StatusCompleted},
	StatusConnected:    {StatusQueued, StatusReplied, StatusConnected, StatusStopped, StatusCompleted},
	StatusEnriching:    {StatusQueued, StatusEnriching, StatusFailed, StatusStopped},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// IsPostSend reports whether at least one step has been delivered and the
// prospect is waiting for the next one.
func (s Status) IsPostSend() bool {
	switch s {
	case StatusAwaitingNext, StatusReplied, StatusConnected:
		return true
	}
	return false
}

// Promotable reports whether a due prospect in this status moves to queued
// at the start of a pass.
func (s Status) Promotable() bool {
	return s == StatusValidated || s.IsPostSend()
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns an error if from -> to is not a legal edge.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}
