package calendar

// DefaultCountry is used when a calendar does not name a country or names
// one without a holiday table.
const DefaultCountry = "INTL"

// holidaysByCountry lists public holidays (local dates) per ISO country code.
// INTL holds only the globally observed dates.
var holidaysByCountry = map[string][]string{
	"US": {
		"2025-01-01", "2025-01-20", "2025-02-17", "2025-05-26", "2025-07-04",
		"2025-09-01", "2025-11-27", "2025-12-25", "2026-01-01", "2026-01-19",
		"2026-02-16", "2026-05-25", "2026-07-03", "2026-09-07", "2026-11-26",
		"2026-12-25",
	},
	"CA": {
		"2025-01-01", "2025-02-17", "2025-04-18", "2025-05-19", "2025-07-01",
		"2025-09-01", "2025-10-13", "2025-12-25", "2025-12-26", "2026-01-01",
	},
	"GB": {
		"2025-01-01", "2025-04-18", "2025-04-21", "2025-05-05", "2025-05-26",
		"2025-08-25", "2025-12-25", "2025-12-26", "2026-01-01",
	},
	"DE": {
		"2025-01-01", "2025-04-18", "2025-04-21", "2025-05-01", "2025-05-29",
		"2025-06-09", "2025-10-03", "2025-12-25", "2025-12-26", "2026-01-01",
	},
	"FR": {
		"2025-01-01", "2025-04-21", "2025-05-01", "2025-05-08", "2025-05-29",
		"2025-06-09", "2025-07-14", "2025-08-15", "2025-11-01", "2025-11-11",
		"2025-12-25", "2026-01-01",
	},
	"AU": {
		"2025-01-01", "2025-01-27", "2025-04-18", "2025-04-19", "2025-04-21",
		"2025-04-25", "2025-06-09", "2025-12-25", "2025-12-26", "2026-01-01",
	},
	"INTL": {
		"2025-01-01", "2025-12-25", "2025-12-26", "2026-01-01",
	},
}

// HolidaysFor returns the holiday dates known for a country code.
// Unknown codes fall back to DefaultCountry.
func HolidaysFor(country string) []string {
	if days, ok := holidaysByCountry[country]; ok {
		return append([]string(nil), days...)
	}
	return append([]string(nil), holidaysByCountry[DefaultCountry]...)
}

// KnownCountry reports whether a holiday table exists for the code.
func KnownCountry(country string) bool {
	_, ok := holidaysByCountry[country]
	return ok
}
