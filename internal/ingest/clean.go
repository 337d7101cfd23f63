package ingest

import (
	"strconv"
	"strings"
	"time"
)

// cleanText collapses all runs of whitespace (including embedded newlines) to
// single spaces and caps the result so one record stays one row downstream.
func cleanText(value string, maxChars int) string {
	collapsed := strings.Join(strings.Fields(value), " ")
	if maxChars > 0 {
		if runes := []rune(collapsed); len(runes) > maxChars {
			collapsed = string(runes[:maxChars])
		}
	}
	return collapsed
}

var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"1/2/06 15:04",
}

// parseDate parses the date formats seen across grievance exports. Unparsable
// values are treated as absent rather than errors.
func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseRating parses a feedback rating cell into a float, tolerating blanks
// and junk values.
func parseRating(value string) *float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	rating, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &rating
}

// resolutionDays computes whole days from creation to closure. Negative
// deltas (clock skew, bad data) are treated as absent.
func resolutionDays(created, closed time.Time, haveCreated, haveClosed bool) *int {
	if !haveCreated || !haveClosed {
		return nil
	}
	days := int(closed.Sub(created).Hours() / 24)
	if days < 0 {
		return nil
	}
	return &days
}
