package entity

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"draft to canon", StatusDraft, StatusCanon, true},
		{"draft to archived", StatusDraft, StatusArchived, true},
		{"canon to archived", StatusCanon, StatusArchived, true},
		{"canon demotion", StatusCanon, StatusDraft, true},
		{"archived to canon", StatusArchived, StatusCanon, false},
		{"archived to draft", StatusArchived, StatusDraft, false},
		{"same status", StatusCanon, StatusCanon, false},
		{"unknown status", Status("pending"), StatusCanon, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsDemotion(t *testing.T) {
	if !IsDemotion(StatusCanon, StatusDraft) {
		t.Fatal("canon to draft should be a demotion")
	}
	if IsDemotion(StatusDraft, StatusCanon) {
		t.Fatal("promotion is not a demotion")
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := Entity{
		ID:     "god:thorin-abc123",
		Name:   "Thorin",
		Fields: map[string]any{"domain": "storms", "traits": []any{"immortal"}},
		Tags:   []string{"pantheon"},
		Claims: []Claim{{Text: "Thorin's domain is storms", ReferencedEntityIDs: []string{"place:skyhold-a1"}}},
	}

	cloned := original.Clone()
	cloned.Fields["domain"] = "tides"
	cloned.Tags[0] = "changed"
	cloned.Claims[0].ReferencedEntityIDs[0] = "changed"

	if original.Fields["domain"] != "storms" {
		t.Fatal("clone shares fields map with original")
	}
	if original.Tags[0] != "pantheon" {
		t.Fatal("clone shares tags slice with original")
	}
	if original.Claims[0].ReferencedEntityIDs[0] != "place:skyhold-a1" {
		t.Fatal("clone shares claim references with original")
	}
}

func TestFieldAccessors(t *testing.T) {
	e := Entity{Fields: map[string]any{
		"description": "  Lord of storms.  ",
		"traits":      []any{"immortal", "storm-born"},
		"allies":      []string{"god:kael-x1"},
		"population":  1200.0,
	}}

	if got := e.Description(); got != "Lord of storms." {
		t.Fatalf("description = %q", got)
	}
	if got := e.ListField("traits"); len(got) != 2 || got[1] != "storm-born" {
		t.Fatalf("traits = %v", got)
	}
	if got := e.ListField("allies"); len(got) != 1 || got[0] != "god:kael-x1" {
		t.Fatalf("allies = %v", got)
	}
	if got := e.ListField("population"); got != nil {
		t.Fatalf("expected nil for non-list field, got %v", got)
	}
	if got := e.StringField("missing"); got != "" {
		t.Fatalf("expected empty string for missing field, got %q", got)
	}
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate(" 1042-03-09 ")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	want := time.Date(1042, 3, 9, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("parsed %v, want %v", got, want)
	}
	if _, err := ParseDate("March 9"); err == nil {
		t.Fatal("expected error for non-wire-format date")
	}
}
