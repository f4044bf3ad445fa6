package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, s := range AllStatuses {
		if !s.IsTerminal() {
			continue
		}
		for _, to := range AllStatuses {
			assert.False(t, CanTransition(s, to), "%s -> %s must be illegal", s, to)
		}
	}
}

func TestEveryNonTerminalStateCanReachATerminalState(t *testing.T) {
	for _, s := range AllStatuses {
		if s.IsTerminal() {
			continue
		}
		seen := map[Status]bool{s: true}
		frontier := []Status{s}
		reached := false
		for len(frontier) > 0 && !reached {
			cur := frontier[0]
			frontier = frontier[1:]
			for _, next := range transitions[cur] {
				if next.IsTerminal() {
					reached = true
					break
				}
				if !seen[next] {
					seen[next] = true
					frontier = append(frontier, next)
				}
			}
		}
		assert.True(t, reached, "%s cannot reach a terminal state", s)
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		legal    bool
	}{
		{StatusPending, StatusValidated, true},
		{StatusPending, StatusQueued, false},
		{StatusValidated, StatusQueued, true},
		{StatusQueued, StatusSent, true},
		{StatusQueued, StatusQueued, true},
		{StatusQueued, StatusCompleted, false},
		{StatusSent, StatusAwaitingNext, true},
		{StatusSent, StatusQueued, false},
		{StatusAwaitingNext, StatusQueued, true},
		{StatusAwaitingNext, StatusReplied, true},
		{StatusReplied, StatusStopped, true},
		{StatusConnected, StatusQueued, true},
		{StatusEnriching, StatusQueued, true},
		{StatusEnriching, StatusSent, false},
		{StatusCompleted, StatusQueued, false},
		{StatusStopped, StatusQueued, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.legal, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionError(t *testing.T) {
	err := Transition(StatusCompleted, StatusQueued)
	require.Error(t, err)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusCompleted, te.From)
	assert.Equal(t, "illegal transition completed -> queued", err.Error())

	assert.NoError(t, Transition(StatusQueued, StatusSent))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusAwaitingNext.IsPostSend())
	assert.True(t, StatusReplied.IsPostSend())
	assert.False(t, StatusQueued.IsPostSend())

	assert.True(t, StatusValidated.Promotable())
	assert.True(t, StatusConnected.Promotable())
	assert.False(t, StatusEnriching.Promotable())
	assert.False(t, StatusStopped.Promotable())

	assert.True(t, StatusEnriching.Valid())
	assert.False(t, Status("archived").Valid())
}
