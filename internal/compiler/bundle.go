package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/cadence/internal/model"
)

// Bundle is the configuration read from one CUE value: every sending
// identity under "identity" and every campaign under "campaign", in
// declaration order.
type Bundle struct {
	Identities []model.SendingIdentity
	Campaigns  []model.Campaign
}

// CompileBundle compiles every identity and campaign in v. With failFast
// it returns on the first error; otherwise it compiles what it can and
// returns all errors. Compile errors keep their *CompileError type.
func CompileBundle(v cue.Value, failFast bool) (*Bundle, []error) {
	b := &Bundle{}
	var errs []error
	if err := v.Err(); err != nil {
		return b, []error{formatCUEError(err)}
	}

	identities := v.LookupPath(cue.ParsePath("identity"))
	if identities.Exists() {
		iter, err := identities.Fields()
		if err != nil {
			return b, []error{fmt.Errorf("iterating identities: %w", formatCUEError(err))}
		}
		for iter.Next() {
			id, err := CompileIdentity(Label(iter.Label()), iter.Value())
			if err != nil {
				errs = append(errs, err)
				if failFast {
					return b, errs
				}
				continue
			}
			b.Identities = append(b.Identities, *id)
		}
	}

	campaigns := v.LookupPath(cue.ParsePath("campaign"))
	if campaigns.Exists() {
		iter, err := campaigns.Fields()
		if err != nil {
			return b, append(errs, fmt.Errorf("iterating campaigns: %w", formatCUEError(err)))
		}
		for iter.Next() {
			c, err := CompileCampaign(Label(iter.Label()), iter.Value())
			if err != nil {
				errs = append(errs, err)
				if failFast {
					return b, errs
				}
				continue
			}
			b.Campaigns = append(b.Campaigns, *c)
		}
	}

	return b, errs
}

// Check validates the whole bundle. See ValidateBundle.
func (b *Bundle) Check() []ValidationError {
	return ValidateBundle(b.Campaigns, b.Identities)
}
