package classify

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Vocabulary defaults applied when model output drifts.
const (
	FallbackCategory = "Other Civic Issues"
	FallbackSubtopic = "General Civic Issue"

	maxSubtopicWords    = 4
	maxShortPhraseWords = 6
	maxSummaryChars     = 240
	maxEntities         = 6
)

// allowedCategories is the closed civic-issue taxonomy. Anything outside the
// list collapses into the fallback bucket.
var allowedCategories = map[string]struct{}{
	"Solid Waste Management":               {},
	"Roads & Footpaths":                    {},
	"Water Supply":                         {},
	"Sewerage & Drainage":                  {},
	"Street Lighting":                      {},
	"Public Health & Sanitation":           {},
	"Encroachment & Illegal Construction":  {},
	"Property Tax & Revenue":               {},
	"Parks & Public Spaces":                {},
	"Traffic & Transport":                  {},
	"Noise / Nuisance":                     {},
	"Animal Control":                       {},
	FallbackCategory:                       {},
}

var titleCaser = cases.Title(language.Und)

// DefaultLabels returns the safe fallback label set recorded when
// classification fails and no prior labels exist for a record.
func DefaultLabels() Labels {
	return coerceLabels(rawLabels{})
}

// coerceLabels forces every field of a decoded result into its closed
// vocabulary. Coercion is normal operation and never produces an error.
func coerceLabels(raw rawLabels) Labels {
	return Labels{
		Category:          coerceCategory(raw.Category),
		Subtopic:          coerceSubtopic(raw.Subtopic),
		Confidence:        coerceConfidence(raw.Confidence),
		IssueType:         coerceShortPhrase(raw.IssueType),
		EntitiesJSON:      coerceEntities(raw.Entities),
		Urgency:           coerceUrgency(raw.Urgency),
		Sentiment:         coerceSentiment(raw.Sentiment),
		ResolutionQuality: coerceLevel(raw.ResolutionQuality),
		ReopenRisk:        coerceLevel(raw.ReopenRisk),
		FeedbackDriver:    coerceShortPhrase(raw.FeedbackDriver),
		ClosureTheme:      coerceShortPhrase(raw.ClosureTheme),
		Summary:           coerceSummary(raw.Summary),
	}
}

func coerceCategory(value string) string {
	value = strings.TrimSpace(value)
	if _, ok := allowedCategories[value]; !ok {
		return FallbackCategory
	}
	return value
}

func coerceSubtopic(value string) string {
	words := strings.Fields(value)
	if len(words) == 0 {
		return FallbackSubtopic
	}
	if len(words) > maxSubtopicWords {
		words = words[:maxSubtopicWords]
	}
	return titleCaser.String(strings.Join(words, " "))
}

func coerceConfidence(value string) string {
	switch capitalize(value) {
	case "High":
		return "High"
	case "Medium":
		return "Medium"
	case "Low":
		return "Low"
	default:
		return "Low"
	}
}

func coerceUrgency(value string) string {
	switch capitalize(value) {
	case "Low":
		return "Low"
	case "High":
		return "High"
	case "Med", "Medium":
		return "Med"
	default:
		return "Med"
	}
}

func coerceSentiment(value string) string {
	switch capitalize(value) {
	case "Neg", "Negative":
		return "Neg"
	case "Pos", "Positive":
		return "Pos"
	case "Neu", "Neutral":
		return "Neu"
	default:
		return "Neu"
	}
}

func coerceLevel(value string) string {
	switch capitalize(value) {
	case "High":
		return "High"
	case "Medium":
		return "Medium"
	case "Low":
		return "Low"
	default:
		return "Unknown"
	}
}

func coerceShortPhrase(value string) string {
	words := strings.Fields(value)
	if len(words) > maxShortPhraseWords {
		words = words[:maxShortPhraseWords]
	}
	return strings.Join(words, " ")
}

func coerceSummary(value string) string {
	collapsed := strings.Join(strings.Fields(value), " ")
	runes := []rune(collapsed)
	if len(runes) > maxSummaryChars {
		collapsed = strings.TrimRight(string(runes[:maxSummaryChars-1]), " ") + "…"
	}
	return collapsed
}

// coerceEntities normalizes the entities field into a canonical JSON string
// array of at most maxEntities non-empty entries. Models return arrays,
// strings, or nothing at all.
func coerceEntities(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	var values []any
	if err := json.Unmarshal(raw, &values); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil {
			return ""
		}
		single = strings.TrimSpace(single)
		if single == "" {
			return "[]"
		}
		values = []any{single}
	}

	entities := make([]string, 0, maxEntities)
	for _, value := range values {
		if len(entities) == maxEntities {
			break
		}
		if value == nil {
			continue
		}
		text := strings.TrimSpace(stringifyEntity(value))
		if text != "" {
			entities = append(entities, text)
		}
	}
	encoded, err := json.Marshal(entities)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func stringifyEntity(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return strings.Trim(string(encoded), `"`)
}

func capitalize(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	lower := strings.ToLower(value)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
