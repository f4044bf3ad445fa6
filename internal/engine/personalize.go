package engine

import (
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/cadence/internal/model"
)

// Placeholders recognised in step templates. Substitution is literal: an
// unknown {token} is left as written and a missing field becomes "".
var placeholders = []string{
	"{first_name}",
	"{last_name}",
	"{company}",
	"{company_name}",
	"{title}",
}

// Personalize fills a step template with the prospect's fields.
func Personalize(template string, p model.Prospect) string {
	if !strings.Contains(template, "{") {
		return template
	}
	values := map[string]string{
		"{first_name}":   p.FirstName,
		"{last_name}":    p.LastName,
		"{company}":      p.Company,
		"{company_name}": p.Company,
		"{title}":        p.Title,
	}
	pairs := make([]string, 0, 2*len(placeholders))
	for _, ph := range placeholders {
		pairs = append(pairs, ph, strings.TrimSpace(values[ph]))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

var tokenPattern = regexp.MustCompile(`\{[a-z_]+\}`)

// UnknownPlaceholders lists the {token}s in template that Personalize
// would leave as written.
func UnknownPlaceholders(template string) []string {
	var out []string
	for _, tok := range tokenPattern.FindAllString(template, -1) {
		if !slices.Contains(placeholders, tok) {
			out = append(out, tok)
		}
	}
	return out
}
