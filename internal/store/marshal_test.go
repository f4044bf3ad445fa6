package store

import (
	"strings"
	"testing"
	"time"

	"github.com/roach88/cadence/internal/calendar"
	"github.com/roach88/cadence/internal/model"
)

func TestMillis_ZeroIsNull(t *testing.T) {
	if v := toMillis(time.Time{}); v.Valid {
		t.Errorf("toMillis(zero) = %v, want NULL", v)
	}
	if got := fromMillis(toMillis(time.Time{})); !got.IsZero() {
		t.Errorf("fromMillis(NULL) = %v, want zero time", got)
	}
}

func TestMillis_TruncatesAndNormalizesToUTC(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*60*60)
	in := time.Date(2025, 6, 13, 16, 0, 0, 123456789, berlin)

	got := fromMillis(toMillis(in))
	want := time.Date(2025, 6, 13, 14, 0, 0, 123000000, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("round trip = %v, want %v", got, want)
	}
}

func TestMarshalCampaign_KeepsTemplateBytes(t *testing.T) {
	c := model.Campaign{
		ID:         "intro",
		IdentityID: "sdr-1",
		Sequence: model.Sequence{Steps: []model.Step{
			{Kind: model.StepInitial, Template: "Hi {first_name} <3 & thanks", CancelOnReply: true},
		}},
		Calendar: calendar.DefaultConfig(),
	}

	data, err := marshalCampaign(c)
	if err != nil {
		t.Fatalf("marshalCampaign() failed: %v", err)
	}
	if !strings.Contains(data, "Hi {first_name} <3 & thanks") {
		t.Errorf("template was escaped: %s", data)
	}
	if strings.HasSuffix(data, "\n") {
		t.Errorf("marshalCampaign() kept the trailing newline")
	}

	back, err := unmarshalCampaign(data)
	if err != nil {
		t.Fatalf("unmarshalCampaign() failed: %v", err)
	}
	if back.Sequence.Steps[0].Template != c.Sequence.Steps[0].Template {
		t.Errorf("template = %q, want %q", back.Sequence.Steps[0].Template, c.Sequence.Steps[0].Template)
	}
}

func TestUnmarshalCampaign_Invalid(t *testing.T) {
	if _, err := unmarshalCampaign("{not json"); err == nil {
		t.Fatal("unmarshalCampaign() accepted invalid JSON")
	}
}
