package enrich

import (
	"strings"

	"casemill/internal/canonhash"
	"casemill/internal/store"
)

// maxInputChars caps the combined classification text per record.
const maxInputChars = 2500

// BuildInputText combines the text fields the model sees for one record.
// Whitespace is collapsed and the result capped so one oversized complaint
// cannot blow the batch's token budget.
func BuildInputText(rec *store.Record) string {
	parts := make([]string, 0, 3)
	if rec.Subject != "" {
		parts = append(parts, "Subject: "+rec.Subject)
	}
	if rec.Description != "" {
		parts = append(parts, "Description: "+rec.Description)
	}
	if rec.ClosingRemark != "" {
		parts = append(parts, "Closing remark: "+rec.ClosingRemark)
	}
	combined := strings.Join(strings.Fields(strings.Join(parts, "\n")), " ")
	if runes := []rune(combined); len(runes) > maxInputChars {
		combined = string(runes[:maxInputChars])
	}
	return combined
}

// InputHash fingerprints every enrichment-relevant field of a record. A
// checkpoint is current only while its stored hash equals this value.
func InputHash(rec *store.Record) string {
	return canonhash.New().
		Set("businessKey", rec.BusinessKey).
		Set("department", rec.Department).
		Set("status", rec.Status).
		Set("subject", rec.Subject).
		Set("description", rec.Description).
		Set("closingRemark", rec.ClosingRemark).
		Set("rating", rec.Rating).
		Set("resolutionDays", rec.ResolutionDays).
		Set("forwardCount", rec.ForwardCount).
		Hash()
}
