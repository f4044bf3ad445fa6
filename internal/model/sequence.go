package model

import (
	"errors"
	"fmt"
	"time"
)

// StepKind distinguishes the first contact from follow-ups.
type StepKind string

const (
	// StepInitial is the first outreach (connection request or opener).
	StepInitial StepKind = "initial"
	// StepFollowUp is any later message addressed through the provider reference.
	StepFollowUp StepKind = "follow_up"
)

// Step is one outbound message in a sequence.
type Step struct {
	Index          int           `json:"index"`
	MinDelay       time.Duration `json:"min_delay"` // relative to the previous step's send
	CancelOnReply  bool          `json:"cancel_on_reply"`
	CancelOnAccept bool          `json:"cancel_on_accept"`
	Kind           StepKind      `json:"kind"`
	Template       string        `json:"template"`
}

// Sequence is the ordered step list of a campaign.
type Sequence struct {
	Steps []Step `json:"steps"`
}

// ErrEmptySequence is returned when a sequence has no steps.
var ErrEmptySequence = errors.New("sequence has no steps")

// SequenceError describes an invalid step.
type SequenceError struct {
	Step    int
	Message string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence step %d: %s", e.Step, e.Message)
}

// Validate enforces the sequence invariants: dense indices from zero, a
// zero delay on step 0 and strictly positive delays afterwards, so every
// step lands strictly later than the one before it.
func (s Sequence) Validate() error {
	if len(s.Steps) == 0 {
		return ErrEmptySequence
	}
	for i, step := range s.Steps {
		if step.Index != i {
			return &SequenceError{Step: i, Message: fmt.Sprintf("index %d out of order", step.Index)}
		}
		switch {
		case i == 0 && step.MinDelay != 0:
			return &SequenceError{Step: i, Message: "first step must not have a delay"}
		case i > 0 && step.MinDelay <= 0:
			return &SequenceError{Step: i, Message: "delay must be positive"}
		}
		switch step.Kind {
		case StepInitial:
			if i != 0 {
				return &SequenceError{Step: i, Message: "only the first step may be initial"}
			}
		case StepFollowUp:
			if i == 0 {
				return &SequenceError{Step: i, Message: "first step must be initial"}
			}
		default:
			return &SequenceError{Step: i, Message: fmt.Sprintf("unknown kind %q", step.Kind)}
		}
	}
	return nil
}

// Len returns the number of steps.
func (s Sequence) Len() int {
	return len(s.Steps)
}

// Step returns the step at index i.
func (s Sequence) Step(i int) (Step, bool) {
	if i < 0 || i >= len(s.Steps) {
		return Step{}, false
	}
	return s.Steps[i], true
}

// IsLast reports whether i is the final step.
func (s Sequence) IsLast(i int) bool {
	return i == len(s.Steps)-1
}

// Offset returns the cumulative minimum delay from step 0 to step i.
func (s Sequence) Offset(i int) time.Duration {
	var total time.Duration
	for j := 1; j <= i && j < len(s.Steps); j++ {
		total += s.Steps[j].MinDelay
	}
	return total
}

// NewSequence builds a sequence from per-step delays. The first delay must
// be zero; every step cancels on reply, and only the first cancels on
// acceptance.
func NewSequence(delays ...time.Duration) Sequence {
	steps := make([]Step, len(delays))
	for i, d := range delays {
		kind := StepFollowUp
		if i == 0 {
			kind = StepInitial
		}
		steps[i] = Step{
			Index:          i,
			MinDelay:       d,
			CancelOnReply:  true,
			CancelOnAccept: i == 0,
			Kind:           kind,
		}
	}
	return Sequence{Steps: steps}
}
