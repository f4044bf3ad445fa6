package engine

import (
	"time"

	"github.com/roach88/cadence/internal/calendar"
	"github.com/roach88/cadence/internal/model"
)

// campaignRuntime is a campaign with its calendar compiled once per pass.
type campaignRuntime struct {
	model.Campaign
	cal *calendar.Calendar
}

func newCampaignRuntime(c model.Campaign) (*campaignRuntime, error) {
	cal, err := calendar.New(c.Calendar)
	if err != nil {
		return nil, err
	}
	return &campaignRuntime{Campaign: c, cal: cal}, nil
}

// NextStepAt computes when the step after sentIndex may go out, given that
// step sentIndex was delivered at sentAt. It returns false when sentIndex
// is the last step: the prospect is complete and never rescheduled.
//
// The result is the earliest business instant at or after
// sentAt + steps[sentIndex+1].MinDelay. With oneStepPerDay it is also no
// earlier than the next working day's window start.
func NextStepAt(seq model.Sequence, cal *calendar.Calendar, oneStepPerDay bool, sentIndex int, sentAt time.Time) (time.Time, bool) {
	next, ok := seq.Step(sentIndex + 1)
	if !ok {
		return time.Time{}, false
	}
	at := cal.BusinessTimeAfter(sentAt.Add(next.MinDelay))
	if oneStepPerDay {
		if floor := cal.NextDayStart(sentAt); at.Before(floor) {
			at = floor
		}
	}
	return at.UTC(), true
}

// nextStepAt is NextStepAt for a campaign runtime.
func (rt *campaignRuntime) nextStepAt(sentIndex int, sentAt time.Time) (time.Time, bool) {
	return NextStepAt(rt.Sequence, rt.cal, rt.OneStepPerDay, sentIndex, sentAt)
}

func (rt *campaignRuntime) maxEnrichAttempts() int {
	if rt.MaxEnrichAttempts <= 0 {
		return model.DefaultMaxEnrichAttempts
	}
	return rt.MaxEnrichAttempts
}

func (rt *campaignRuntime) maxRetries() int {
	if rt.MaxRetries <= 0 {
		return model.DefaultMaxRetries
	}
	return rt.MaxRetries
}
