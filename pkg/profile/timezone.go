package profile

import (
	"context"
	"strings"
	"time"
)

// commonTimezones maps the names people actually use to IANA identifiers.
// Extraction stores whatever the user said; resolution happens at read time.
var commonTimezones = map[string]string{
	"pacific":     "America/Los_Angeles",
	"pst":         "America/Los_Angeles",
	"pdt":         "America/Los_Angeles",
	"mountain":    "America/Denver",
	"mst":         "America/Denver",
	"central":     "America/Chicago",
	"cst":         "America/Chicago",
	"eastern":     "America/New_York",
	"est":         "America/New_York",
	"edt":         "America/New_York",
	"utc":         "UTC",
	"gmt":         "UTC",
	"london":      "Europe/London",
	"uk":          "Europe/London",
	"berlin":      "Europe/Berlin",
	"germany":     "Europe/Berlin",
	"paris":       "Europe/Paris",
	"amsterdam":   "Europe/Amsterdam",
	"stockholm":   "Europe/Stockholm",
	"riga":        "Europe/Riga",
	"helsinki":    "Europe/Helsinki",
	"moscow":      "Europe/Moscow",
	"india":       "Asia/Kolkata",
	"ist":         "Asia/Kolkata",
	"singapore":   "Asia/Singapore",
	"tokyo":       "Asia/Tokyo",
	"japan":       "Asia/Tokyo",
	"sydney":      "Australia/Sydney",
	"australia":   "Australia/Sydney",
	"auckland":    "Pacific/Auckland",
	"new zealand": "Pacific/Auckland",
	"sao paulo":   "America/Sao_Paulo",
	"brazil":      "America/Sao_Paulo",
}

// Location resolves the user's timezone fact to a *time.Location. Falls back
// to UTC when the fact is absent or unresolvable.
func (m *Manager) Location(ctx context.Context) *time.Location {
	value, err := m.Fact(ctx, "timezone")
	if err != nil || value == "" {
		return time.UTC
	}
	if loc := ResolveTimezone(value); loc != nil {
		return loc
	}
	m.logger.Debug().Str("timezone", value).Msg("Unresolvable timezone fact, using UTC")
	return time.UTC
}

// ResolveTimezone turns a user-supplied timezone name into a location. It
// accepts IANA identifiers directly and common names via the lookup table.
// Returns nil when the name cannot be resolved.
func ResolveTimezone(name string) *time.Location {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil
	}
	if loc, err := time.LoadLocation(trimmed); err == nil {
		return loc
	}
	if iana, ok := commonTimezones[strings.ToLower(trimmed)]; ok {
		if loc, err := time.LoadLocation(iana); err == nil {
			return loc
		}
	}
	return nil
}
