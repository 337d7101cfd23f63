package enrich

import (
	"strings"
	"testing"

	"casemill/internal/store"
)

func TestBuildInputText(t *testing.T) {
	rec := &store.Record{
		Subject:       "Garbage not  lifted",
		Description:   "Pile growing\nnear the market",
		ClosingRemark: "Cleared by ward team",
	}
	got := BuildInputText(rec)
	want := "Subject: Garbage not lifted Description: Pile growing near the market Closing remark: Cleared by ward team"
	if got != want {
		t.Errorf("BuildInputText = %q, want %q", got, want)
	}

	empty := BuildInputText(&store.Record{Description: "only text"})
	if empty != "Description: only text" {
		t.Errorf("BuildInputText partial = %q", empty)
	}

	long := BuildInputText(&store.Record{Description: strings.Repeat("x", 6000)})
	if len([]rune(long)) != maxInputChars {
		t.Errorf("BuildInputText length = %d, want capped at %d", len([]rune(long)), maxInputChars)
	}
}

func TestInputHashSensitivity(t *testing.T) {
	base := func() *store.Record {
		rating := 3.0
		days := 5
		return &store.Record{
			BusinessKey:    "TKT-1",
			Department:     "SWM",
			Status:         "Closed",
			Subject:        "Garbage",
			Description:    "pile",
			ClosingRemark:  "done",
			Rating:         &rating,
			ResolutionDays: &days,
			ForwardCount:   1,
		}
	}

	if InputHash(base()) != InputHash(base()) {
		t.Fatalf("hash not deterministic")
	}

	changed := base()
	changed.Description = "different"
	if InputHash(changed) == InputHash(base()) {
		t.Errorf("description change should change the hash")
	}

	unrated := base()
	unrated.Rating = nil
	if InputHash(unrated) == InputHash(base()) {
		t.Errorf("rating change should change the hash")
	}
}
