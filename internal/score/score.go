// Package score derives a 0-100 actionability ranking for enriched records.
//
// The score orders records for triage: chronic, urgent, badly rated grievances
// float to the top. It is a pure function of AI labels and ticket metadata so
// it can be recomputed cheaply whenever either side changes.
package score

// Inputs carries everything the score depends on. Pointer fields are optional
// ticket metadata that may be absent from the source export.
type Inputs struct {
	Urgency        string
	ReopenRisk     string
	Confidence     string
	Rating         *float64
	ResolutionDays *int
	ForwardCount   int
}

// Compute returns the actionable score, clamped to [0, 100]. Unknown or
// missing inputs contribute conservative middle-ground weight so a sparsely
// populated record still ranks sensibly.
func Compute(in Inputs) int {
	total := 0

	switch in.Urgency {
	case "High":
		total += 30
	case "Med":
		total += 15
	default:
		total += 5
	}

	switch in.ReopenRisk {
	case "High":
		total += 25
	case "Medium":
		total += 12
	case "Low":
		total += 3
	default:
		total += 8
	}

	if in.ResolutionDays != nil {
		switch days := *in.ResolutionDays; {
		case days >= 30:
			total += 20
		case days >= 14:
			total += 12
		case days >= 7:
			total += 6
		}
	}

	if in.Rating != nil {
		switch rating := *in.Rating; {
		case rating <= 2:
			total += 15
		case rating <= 3:
			total += 8
		}
	}

	switch {
	case in.ForwardCount >= 3:
		total += 10
	case in.ForwardCount >= 1:
		total += 5
	}

	// Confident classifications need less human review.
	if in.Confidence == "High" {
		total -= 5
	}

	if total < 0 {
		return 0
	}
	if total > 100 {
		return 100
	}
	return total
}
