package chat

import (
	"strings"
	"testing"

	"loom/cmd/internal/genai"
)

func containsLine(s, line string) bool {
	for _, l := range strings.Split(s, "\n") {
		if l == line {
			return true
		}
	}
	return false
}

func TestGroundingBlockFormat(t *testing.T) {
	t.Parallel()

	g := newGroundingCollector()
	g.Add(&genai.GroundingMetadata{
		GroundingChunks:  []genai.GroundingChunk{{Web: &genai.WebSource{Title: "T1", URI: "U1"}}},
		WebSearchQueries: []string{"b", "a", "a"},
	})

	block := g.Block()
	if !strings.Contains(block, "[1][T1](U1)") {
		t.Fatalf("missing link: %q", block)
	}
	if !containsLine(block, "Query: a / b") {
		t.Fatalf("missing deduplicated sorted query line: %q", block)
	}
}

func TestGroundingBlockNumbersByFirstAppearance(t *testing.T) {
	t.Parallel()

	g := newGroundingCollector()
	g.Add(&genai.GroundingMetadata{GroundingChunks: []genai.GroundingChunk{
		{Web: &genai.WebSource{Title: "First", URI: "u1"}},
		{Web: &genai.WebSource{Title: "Second", URI: "u2"}},
	}})
	g.Add(&genai.GroundingMetadata{GroundingChunks: []genai.GroundingChunk{
		{Web: &genai.WebSource{Title: "First again", URI: "u1"}},
		{Web: &genai.WebSource{Title: "Third", URI: "u3"}},
	}})

	block := g.Block()
	for _, want := range []string{"[1][First](u1)", "[2][Second](u2)", "[3][Third](u3)"} {
		if !containsLine(block, want) {
			t.Fatalf("missing %q in:\n%s", want, block)
		}
	}
	if strings.Contains(block, "First again") {
		t.Fatal("duplicate URI re-listed under a new title")
	}
}

func TestGroundingBlockEmpty(t *testing.T) {
	t.Parallel()

	g := newGroundingCollector()
	if got := g.Block(); got != "" {
		t.Fatalf("empty collector rendered %q", got)
	}

	g.Add(nil)
	g.Add(&genai.GroundingMetadata{GroundingChunks: []genai.GroundingChunk{{Web: nil}}})
	if got := g.Block(); got != "" {
		t.Fatalf("metadata without usable content rendered %q", got)
	}
}

func TestUsageFooter(t *testing.T) {
	t.Parallel()

	got := usageFooter("gemini-2.0-flash", 1234567)
	want := "\n\n---\n**gemini-2.0-flash**    Token: 1,234,567\n\n"
	if got != want {
		t.Fatalf("footer = %q, want %q", got, want)
	}
}

func TestGroupDigits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{7, "7"},
		{999, "999"},
		{1000, "1,000"},
		{42424, "42,424"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
	}
	for _, tt := range tests {
		if got := groupDigits(tt.in); got != tt.want {
			t.Errorf("groupDigits(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
