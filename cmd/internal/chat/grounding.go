package chat

import (
	"sort"
	"strconv"
	"strings"

	"loom/cmd/internal/genai"
)

// groundingCollector accumulates web-search citations across the fragments of
// one streaming turn. Links keep first-appearance order and are deduplicated
// by URI; queries are deduplicated and sorted at render time.
type groundingCollector struct {
	links   []genai.WebSource
	seenURI map[string]struct{}
	queries map[string]struct{}
}

func newGroundingCollector() *groundingCollector {
	return &groundingCollector{
		seenURI: make(map[string]struct{}),
		queries: make(map[string]struct{}),
	}
}

// Add merges one fragment's grounding metadata into the collector.
func (g *groundingCollector) Add(md *genai.GroundingMetadata) {
	if md == nil {
		return
	}
	for _, c := range md.GroundingChunks {
		if c.Web == nil || c.Web.URI == "" {
			continue
		}
		if _, ok := g.seenURI[c.Web.URI]; ok {
			continue
		}
		g.seenURI[c.Web.URI] = struct{}{}
		g.links = append(g.links, *c.Web)
	}
	for _, q := range md.WebSearchQueries {
		if q != "" {
			g.queries[q] = struct{}{}
		}
	}
}

// Block renders the citation block appended after the model text, or "" when
// the turn produced no citations:
//
//	[1][Title](URI)
//	[2][Title](URI)
//	Query: a / b
func (g *groundingCollector) Block() string {
	if len(g.links) == 0 && len(g.queries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n")
	for i, l := range g.links {
		b.WriteString("[" + strconv.Itoa(i+1) + "][" + l.Title + "](" + l.URI + ")\n")
	}

	if len(g.queries) > 0 {
		qs := make([]string, 0, len(g.queries))
		for q := range g.queries {
			qs = append(qs, q)
		}
		sort.Strings(qs)
		b.WriteString("\nQuery: " + strings.Join(qs, " / ") + "\n")
	}

	return b.String()
}

// usageFooter renders the model/token trailer appended to a completed turn.
func usageFooter(model string, totalTokens int) string {
	return "\n\n---\n**" + model + "**    Token: " + groupDigits(totalTokens) + "\n\n"
}

// groupDigits formats n with comma thousand separators.
func groupDigits(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	if neg {
		return "-" + b.String()
	}
	return b.String()
}
