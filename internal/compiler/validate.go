package compiler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/model"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedType = "E100" // unsupported type for validation

	// Campaign errors (E101-E109)
	ErrCampaignIdentity   = "E101" // identity is required
	ErrCampaignNoSteps    = "E102" // at least one step required
	ErrInvalidStep        = "E103" // step order, delay or kind invalid
	ErrInvalidCalendar    = "E104" // timezone, hours or holidays invalid
	ErrDuplicateName      = "E105" // duplicate campaign/identity id
	ErrNegativeLimit      = "E106" // max_retries / max_enrich_attempts < 0
	ErrUnknownIdentity    = "E107" // campaign references undefined identity
	ErrUnknownPlaceholder = "E108" // template uses an unsupported {token}
	ErrEmptyTemplate      = "E109" // template is blank

	// Identity errors (E110-E119)
	ErrIdentityID    = "E110" // id is required
	ErrInvalidQuota  = "E111" // daily quota must not be negative
	ErrInvalidWindow = "E112" // window must be positive
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled campaign or identity.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch x := v.(type) {
	case *model.Campaign:
		return validateCampaign(x)
	case model.Campaign:
		return validateCampaign(&x)
	case *model.SendingIdentity:
		return validateIdentity(x)
	case model.SendingIdentity:
		return validateIdentity(&x)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type: %T", v),
			Code:    ErrUnsupportedType,
		}}
	}
}

func validateCampaign(c *model.Campaign) []ValidationError {
	var errs []ValidationError
	prefix := "campaign." + c.ID

	// E101: identity is required
	if strings.TrimSpace(c.IdentityID) == "" {
		errs = append(errs, ValidationError{
			Field:   prefix + ".identity",
			Message: "identity is required and must be non-empty",
			Code:    ErrCampaignIdentity,
		})
	}

	// E106: limits must not be negative
	if c.MaxRetries < 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".max_retries",
			Message: fmt.Sprintf("must not be negative, got %d", c.MaxRetries),
			Code:    ErrNegativeLimit,
		})
	}
	if c.MaxEnrichAttempts < 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".max_enrich_attempts",
			Message: fmt.Sprintf("must not be negative, got %d", c.MaxEnrichAttempts),
			Code:    ErrNegativeLimit,
		})
	}

	// E102: at least one step
	if len(c.Sequence.Steps) == 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".steps",
			Message: "at least one step is required",
			Code:    ErrCampaignNoSteps,
		})
	} else if err := c.Sequence.Validate(); err != nil {
		field := prefix + ".steps"
		var se *model.SequenceError
		if errors.As(err, &se) {
			field = fmt.Sprintf("%s.steps[%d]", prefix, se.Step)
		}
		errs = append(errs, ValidationError{
			Field:   field,
			Message: err.Error(),
			Code:    ErrInvalidStep,
		})
	}

	for i, step := range c.Sequence.Steps {
		field := fmt.Sprintf("%s.steps[%d].template", prefix, i)
		if strings.TrimSpace(step.Template) == "" {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "template is required and must be non-empty",
				Code:    ErrEmptyTemplate,
			})
			continue
		}
		// E108: every placeholder must be one Personalize fills
		for _, tok := range engine.UnknownPlaceholders(step.Template) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("unknown placeholder %s", tok),
				Code:    ErrUnknownPlaceholder,
			})
		}
	}

	// E104: calendar must compile
	if err := c.Calendar.Validate(); err != nil {
		errs = append(errs, ValidationError{
			Field:   prefix + ".calendar",
			Message: err.Error(),
			Code:    ErrInvalidCalendar,
		})
	}

	return errs
}

func validateIdentity(i *model.SendingIdentity) []ValidationError {
	var errs []ValidationError
	prefix := "identity." + i.ID

	if strings.TrimSpace(i.ID) == "" {
		errs = append(errs, ValidationError{
			Field:   "identity",
			Message: "id is required and must be non-empty",
			Code:    ErrIdentityID,
		})
	}
	if i.DailyQuota < 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".daily_quota",
			Message: fmt.Sprintf("must not be negative, got %d", i.DailyQuota),
			Code:    ErrInvalidQuota,
		})
	}
	if i.Window < 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".window",
			Message: fmt.Sprintf("must be positive, got %s", i.Window),
			Code:    ErrInvalidWindow,
		})
	}
	return errs
}

// ValidateBundle validates every campaign and identity plus the references
// between them: campaign and identity IDs are unique and every campaign
// names a defined identity. Errors are sorted by field for stable output.
func ValidateBundle(campaigns []model.Campaign, identities []model.SendingIdentity) []ValidationError {
	var errs []ValidationError

	known := make(map[string]bool, len(identities))
	for _, id := range identities {
		errs = append(errs, validateIdentity(&id)...)
		if known[id.ID] {
			errs = append(errs, ValidationError{
				Field:   "identity." + id.ID,
				Message: fmt.Sprintf("duplicate identity id: %q", id.ID),
				Code:    ErrDuplicateName,
			})
		}
		known[id.ID] = true
	}

	seen := make(map[string]bool, len(campaigns))
	for _, c := range campaigns {
		errs = append(errs, validateCampaign(&c)...)
		if seen[c.ID] {
			errs = append(errs, ValidationError{
				Field:   "campaign." + c.ID,
				Message: fmt.Sprintf("duplicate campaign id: %q", c.ID),
				Code:    ErrDuplicateName,
			})
		}
		seen[c.ID] = true

		// E107: identity must be defined alongside the campaign
		if c.IdentityID != "" && !known[c.IdentityID] {
			errs = append(errs, ValidationError{
				Field:   "campaign." + c.ID + ".identity",
				Message: fmt.Sprintf("undefined identity %q", c.IdentityID),
				Code:    ErrUnknownIdentity,
			})
		}
	}

	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}
