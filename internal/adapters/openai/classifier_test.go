package openai

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

func TestParsePredictionsCleanJSON(t *testing.T) {
	got, err := parsePredictions(`[{"id":"e1","category":"Work"},{"id":"e2","category":" Personal "}]`)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("parsed %d predictions, want 2", len(got))
	}
	if got[0].ID != "e1" || got[0].Category != "Work" {
		t.Fatalf("first prediction: %+v", got[0])
	}
	if got[1].Category != "Personal" {
		t.Fatalf("category not trimmed: %q", got[1].Category)
	}
}

func TestParsePredictionsFencedJSON(t *testing.T) {
	response := "Here are the classifications:\n```json\n" +
		`[{"id":"e1","category":"Newsletters"}]` +
		"\n```\nLet me know if you need anything else."
	got, err := parsePredictions(response)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Category != "Newsletters" {
		t.Fatalf("parsed %+v", got)
	}
}

func TestParsePredictionsSkipsEmptyIDs(t *testing.T) {
	got, err := parsePredictions(`[{"id":"","category":"Work"},{"id":"e2","category":"Work"}]`)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "e2" {
		t.Fatalf("parsed %+v, want only e2", got)
	}
}

func TestParsePredictionsRejectsGarbage(t *testing.T) {
	if _, err := parsePredictions("I cannot classify these emails."); err == nil {
		t.Fatal("prose without JSON accepted")
	}
	if _, err := parsePredictions("broken [ not json ] here"); err == nil {
		t.Fatal("malformed array accepted")
	}
}

func TestBuildPromptContainsBatchAndTaxonomy(t *testing.T) {
	c := NewClassifier("test-key", "gpt-4o-mini", 512, 0, 0, zap.NewNop())

	prompt, err := c.buildPrompt([]*core.Email{
		{ID: "e1", SenderName: "Alice", SenderAddress: "alice@x.com", Subject: "budget review"},
		{ID: "e2", SenderName: "Bob", SenderAddress: "bob@y.com", Subject: "lunch?"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// encoding/json escapes angle brackets, so match on the address only
	for _, want := range []string{`"id":"e1"`, "alice@x.com", "- Blacklisted:"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	// "Uncategorized" is the pending marker, not a verdict
	if strings.Contains(prompt, "- Uncategorized:") {
		t.Fatalf("prompt offers Uncategorized as a category:\n%s", prompt)
	}
}
