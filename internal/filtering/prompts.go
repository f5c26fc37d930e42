package filtering

import (
	"fmt"
	"strings"

	"litwatch/internal/domain"
)

const (
	coarseAbstractLimit = 150

	defaultEvaluationGuide = `Read each document carefully, especially the abstract, then assess:

1. Relevance (is_selected): does the document directly relate to the
   research topic and contain the needed information or methods?
   Return true or false.
2. Relevance score (score), between 0 and 1:
   0.8-1.0 highly relevant, core literature
   0.6-0.8 moderately relevant, useful reference
   0.4-0.6 marginally relevant
   0.0-0.4 essentially unrelated
3. Summary (summary): one or two sentences on the core content and why
   the document was selected or rejected.
4. Highlights (highlights): two to four key findings or novel points
   most relevant to the research topic.`
)

// BuildCoarsePrompt renders the cheap high-recall screening prompt:
// titles plus truncated abstracts, biased toward keeping uncertain
// documents.
func BuildCoarsePrompt(fc Context, docs []domain.RawDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: quickly screen the following candidate documents and discard only the clearly irrelevant ones.\n\n")
	fmt.Fprintf(&b, "Research topic: %s\n", fc.Prompt)
	fmt.Fprintf(&b, "Keywords: %s\n\n", strings.Join(fc.Keywords, ", "))
	fmt.Fprintf(&b, "Candidate documents (%d total):\n", len(docs))
	for i, doc := range docs {
		fmt.Fprintf(&b, "[%d] ID: %s\nTitle: %s\nAbstract: %s\n", i+1, doc.ExternalID, doc.Title, truncate(doc.Abstract, coarseAbstractLimit))
	}
	b.WriteString(`
Screening rules:
1. Keep a document when its title plausibly relates to the topic.
2. Keep a document when the abstract mentions related keywords or concepts.
3. Prefer false keeps over false discards: when uncertain, set is_selected=true.

Scoring (coarse): 0.6-1.0 likely relevant, 0.3-0.6 uncertain (keep), 0.0-0.3 clearly irrelevant.

Output: a JSON array with one entry per document. The coarse stage needs no summary or highlights; leave them empty.
[
  {"external_id": "id1", "is_selected": true, "score": 0.7, "summary": "", "highlights": []},
  {"external_id": "id2", "is_selected": false, "score": 0.2, "summary": "", "highlights": []}
]
`)
	return b.String()
}

// BuildFinePrompt renders the detailed evaluation prompt: full
// abstracts, authors and keywords, plus the task's custom evaluation
// guide when one is configured.
func BuildFinePrompt(fc Context, docs []domain.RawDocument) string {
	guide := strings.TrimSpace(fc.Config.FilterPrompt)
	if guide == "" {
		guide = defaultEvaluationGuide
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: evaluate in detail how relevant each of the following %d documents is to the research topic.\n\n", len(docs))
	fmt.Fprintf(&b, "Research topic: %s\n", fc.Prompt)
	fmt.Fprintf(&b, "Keywords: %s\n\n", strings.Join(fc.Keywords, ", "))
	for i, doc := range docs {
		fmt.Fprintf(&b, "--- Document %d ---\n", i+1)
		fmt.Fprintf(&b, "ID: %s\nTitle: %s\n", doc.ExternalID, doc.Title)
		fmt.Fprintf(&b, "Authors: %s\n", joinOr(doc.Authors, 5, "unknown"))
		fmt.Fprintf(&b, "Keywords: %s\n", joinOr(doc.Keywords, 0, "none"))
		fmt.Fprintf(&b, "Full abstract:\n%s\n\n", orDefault(doc.Abstract, "no abstract"))
	}
	b.WriteString(guide)
	fmt.Fprintf(&b, `

Output: a JSON array covering all %d documents. Every entry must carry a summary and highlights.
[
  {
    "external_id": "id1",
    "is_selected": true,
    "score": 0.85,
    "summary": "core content and the reason for selection",
    "highlights": ["finding 1", "finding 2"]
  }
]
`, len(docs))
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func joinOr(items []string, limit int, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return strings.Join(items, ", ")
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
