package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/cadence/internal/calendar"
	"github.com/roach88/cadence/internal/model"
)

// CompileCampaign parses a CUE value into a Campaign.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value is the campaign struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`campaign: welcome: { identity: "sdr-1", steps: [...] }`)
//	c, err := CompileCampaign("welcome", v.LookupPath(cue.ParsePath("campaign.welcome")))
//
// Unset calendar fields take calendar.DefaultConfig values. Steps default
// to cancel on reply; only the first step cancels on acceptance.
func CompileCampaign(id string, v cue.Value) (*model.Campaign, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	c := &model.Campaign{ID: id, OneStepPerDay: true}

	var err error
	if c.Name, err = optionalString(v, "name"); err != nil {
		return nil, err
	}

	identityVal := v.LookupPath(cue.ParsePath("identity"))
	if !identityVal.Exists() {
		return nil, &CompileError{
			Field:   "identity",
			Message: "identity is required",
			Pos:     v.Pos(),
		}
	}
	if c.IdentityID, err = identityVal.String(); err != nil {
		return nil, formatCUEError(err)
	}

	if c.MaxRetries, err = optionalInt(v, "max_retries", model.DefaultMaxRetries); err != nil {
		return nil, err
	}
	if c.MaxEnrichAttempts, err = optionalInt(v, "max_enrich_attempts", model.DefaultMaxEnrichAttempts); err != nil {
		return nil, err
	}
	if c.OneStepPerDay, err = optionalBool(v, "one_step_per_day", true); err != nil {
		return nil, err
	}

	if c.Calendar, err = parseCalendar(v); err != nil {
		return nil, err
	}

	if c.Sequence, err = parseSteps(v); err != nil {
		return nil, err
	}
	if len(c.Sequence.Steps) == 0 {
		return nil, &CompileError{
			Field:   "steps",
			Message: "at least one step is required",
			Pos:     v.Pos(),
		}
	}

	return c, nil
}

// CompileIdentity parses a CUE value into a SendingIdentity. Counters and
// the window reset time are runtime state and are never read from
// configuration.
func CompileIdentity(id string, v cue.Value) (*model.SendingIdentity, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	identity := &model.SendingIdentity{ID: id}

	var err error
	if identity.Name, err = optionalString(v, "name"); err != nil {
		return nil, err
	}

	quotaVal := v.LookupPath(cue.ParsePath("daily_quota"))
	if !quotaVal.Exists() {
		return nil, &CompileError{
			Field:   "daily_quota",
			Message: "daily_quota is required",
			Pos:     v.Pos(),
		}
	}
	quota, err := quotaVal.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	identity.DailyQuota = int(quota)

	window, err := optionalString(v, "window")
	if err != nil {
		return nil, err
	}
	if window != "" {
		d, err := ParseDelay(window)
		if err != nil {
			return nil, &CompileError{
				Field:   "window",
				Message: err.Error(),
				Pos:     v.LookupPath(cue.ParsePath("window")).Pos(),
			}
		}
		identity.Window = d
	} else {
		identity.Window = model.DefaultQuotaWindow
	}

	if identity.Active, err = optionalBool(v, "active", true); err != nil {
		return nil, err
	}
	return identity, nil
}

// parseCalendar reads the optional calendar block over the defaults.
func parseCalendar(v cue.Value) (calendar.Config, error) {
	cfg := calendar.DefaultConfig()
	calVal := v.LookupPath(cue.ParsePath("calendar"))
	if !calVal.Exists() {
		return cfg, nil
	}

	var err error
	if tz, err := optionalString(calVal, "timezone"); err != nil {
		return cfg, err
	} else if tz != "" {
		cfg.Timezone = tz
	}
	if cfg.StartHour, err = optionalInt(calVal, "start_hour", cfg.StartHour); err != nil {
		return cfg, err
	}
	if cfg.EndHour, err = optionalInt(calVal, "end_hour", cfg.EndHour); err != nil {
		return cfg, err
	}
	if cfg.SkipWeekends, err = optionalBool(calVal, "skip_weekends", cfg.SkipWeekends); err != nil {
		return cfg, err
	}
	if cfg.SkipHolidays, err = optionalBool(calVal, "skip_holidays", cfg.SkipHolidays); err != nil {
		return cfg, err
	}
	if country, err := optionalString(calVal, "country"); err != nil {
		return cfg, err
	} else if country != "" {
		cfg.Country = country
	}

	holidaysVal := calVal.LookupPath(cue.ParsePath("holidays"))
	if holidaysVal.Exists() {
		iter, err := holidaysVal.List()
		if err != nil {
			return cfg, formatCUEError(err)
		}
		for iter.Next() {
			day, err := iter.Value().String()
			if err != nil {
				return cfg, formatCUEError(err)
			}
			cfg.Holidays = append(cfg.Holidays, day)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, &CompileError{
			Field:   "calendar",
			Message: err.Error(),
			Pos:     calVal.Pos(),
		}
	}
	return cfg, nil
}

// parseSteps reads the ordered step list.
func parseSteps(v cue.Value) (model.Sequence, error) {
	var seq model.Sequence

	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return seq, nil
	}
	iter, err := stepsVal.List()
	if err != nil {
		return seq, formatCUEError(err)
	}

	for i := 0; iter.Next(); i++ {
		stepVal := iter.Value()
		step := model.Step{
			Index: i,
			Kind:  model.StepFollowUp,
		}
		if i == 0 {
			step.Kind = model.StepInitial
		}

		delay, err := optionalString(stepVal, "delay")
		if err != nil {
			return seq, err
		}
		if delay != "" {
			if step.MinDelay, err = ParseDelay(delay); err != nil {
				return seq, &CompileError{
					Field:   fmt.Sprintf("steps[%d].delay", i),
					Message: err.Error(),
					Pos:     stepVal.LookupPath(cue.ParsePath("delay")).Pos(),
				}
			}
		}

		templateVal := stepVal.LookupPath(cue.ParsePath("template"))
		if !templateVal.Exists() {
			return seq, &CompileError{
				Field:   fmt.Sprintf("steps[%d].template", i),
				Message: "step template is required",
				Pos:     stepVal.Pos(),
			}
		}
		if step.Template, err = templateVal.String(); err != nil {
			return seq, formatCUEError(err)
		}

		kind, err := optionalString(stepVal, "kind")
		if err != nil {
			return seq, err
		}
		if kind != "" {
			step.Kind = model.StepKind(kind)
		}
		if step.CancelOnReply, err = optionalBool(stepVal, "cancel_on_reply", true); err != nil {
			return seq, err
		}
		if step.CancelOnAccept, err = optionalBool(stepVal, "cancel_on_accept", i == 0); err != nil {
			return seq, err
		}

		seq.Steps = append(seq.Steps, step)
	}
	return seq, nil
}

// ParseDelay parses a Go duration ("36h", "90m") or a whole number of days
// ("2d"). The empty string and "0" are zero.
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid delay %q: days must be a non-negative integer", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q: %v", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid delay %q: must not be negative", s)
	}
	return d, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalInt(v cue.Value, field string, def int) (int, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return def, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

func optionalBool(v cue.Value, field string, def bool) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return def, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// Label returns a struct field label without CUE quoting, so that
// "sdr-1": {...} and sdr1: {...} both yield the plain name.
func Label(s string) string {
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	return s
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
