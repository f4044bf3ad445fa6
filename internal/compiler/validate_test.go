package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/calendar"
	"github.com/roach88/cadence/internal/model"
)

func validCampaign(id, identity string) model.Campaign {
	seq := model.NewSequence(0, 48*time.Hour)
	seq.Steps[0].Template = "Hi {first_name}"
	seq.Steps[1].Template = "How is {company}?"
	return model.Campaign{
		ID:         id,
		IdentityID: identity,
		Sequence:   seq,
		Calendar:   calendar.DefaultConfig(),
	}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateCampaignValid(t *testing.T) {
	c := validCampaign("welcome", "sdr-1")
	assert.Empty(t, Validate(&c))
	assert.Empty(t, Validate(c))
}

func TestValidateCampaignCollectsAll(t *testing.T) {
	c := validCampaign("bad", "")
	c.MaxRetries = -1
	c.Sequence.Steps[1].MinDelay = 0
	c.Sequence.Steps[1].Template = "Hey {nickname}"
	c.Calendar.StartHour = 30

	errs := Validate(&c)
	assert.Equal(t, []string{
		ErrCampaignIdentity,
		ErrNegativeLimit,
		ErrInvalidStep,
		ErrUnknownPlaceholder,
		ErrInvalidCalendar,
	}, codes(errs))
	assert.Equal(t, "campaign.bad.steps[1]", errs[2].Field)
	assert.Equal(t, "campaign.bad.steps[1].template", errs[3].Field)
}

func TestValidateCampaignNoSteps(t *testing.T) {
	c := validCampaign("empty", "sdr-1")
	c.Sequence = model.Sequence{}
	assert.Equal(t, []string{ErrCampaignNoSteps}, codes(Validate(c)))
}

func TestValidateEmptyTemplate(t *testing.T) {
	c := validCampaign("blank", "sdr-1")
	c.Sequence.Steps[0].Template = "  "
	errs := Validate(c)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrEmptyTemplate, errs[0].Code)
	assert.Equal(t, "campaign.blank.steps[0].template", errs[0].Field)
}

func TestValidateIdentity(t *testing.T) {
	assert.Empty(t, Validate(model.SendingIdentity{ID: "a", DailyQuota: 10}))

	errs := Validate(&model.SendingIdentity{ID: "a", DailyQuota: -1, Window: -time.Hour})
	assert.Equal(t, []string{ErrInvalidQuota, ErrInvalidWindow}, codes(errs))
}

func TestValidateUnsupportedType(t *testing.T) {
	errs := Validate("nope")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedType, errs[0].Code)
}

func TestValidateBundle(t *testing.T) {
	identities := []model.SendingIdentity{
		{ID: "sdr-1", DailyQuota: 10},
		{ID: "sdr-1", DailyQuota: 5},
	}
	campaigns := []model.Campaign{
		validCampaign("a", "sdr-1"),
		validCampaign("b", "sdr-9"),
		validCampaign("a", "sdr-1"),
	}

	errs := ValidateBundle(campaigns, identities)
	require.Len(t, errs, 3)
	assert.Equal(t, ValidationError{
		Field:   "campaign.a",
		Message: `duplicate campaign id: "a"`,
		Code:    ErrDuplicateName,
	}, errs[0])
	assert.Equal(t, "campaign.b.identity", errs[1].Field)
	assert.Equal(t, ErrUnknownIdentity, errs[1].Code)
	assert.Equal(t, "identity.sdr-1", errs[2].Field)
	assert.Equal(t, ErrDuplicateName, errs[2].Code)
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "campaign.a.identity", Message: "identity is required", Code: ErrCampaignIdentity}
	assert.Equal(t, "[E101] campaign.a.identity: identity is required", e.Error())

	e.Line = 4
	assert.Equal(t, "[E101] line 4: campaign.a.identity: identity is required", e.Error())
}
