package filtering

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoJSON reports that no parseable JSON could be recovered from the
// agent's reply. Callers treat it as a transient failure and retry; it
// never propagates past the pipeline boundary.
var ErrNoJSON = errors.New("no parseable JSON in agent output")

// AgentVerdict is one item of the agent's reply after defensive
// coercion: missing score defaults to 0.5, missing is_selected to
// true. Scores are not yet clamped and thresholds not yet applied.
type AgentVerdict struct {
	ExternalID string
	Selected   bool
	Score      float64
	Summary    string
	Highlights []string
}

// rawVerdict tolerates the type drift LLMs produce: numeric strings
// for scores, numbers for ids, non-string highlight entries.
type rawVerdict struct {
	ExternalID any   `json:"external_id"`
	IsSelected *bool `json:"is_selected"`
	Score      any   `json:"score"`
	Summary    any   `json:"summary"`
	Highlights []any `json:"highlights"`
}

// ParseVerdicts extracts a list of verdicts from free-text agent
// output. known maps the external ids of the current batch; items with
// unknown ids are discarded so a hallucinated id cannot leak into the
// result. Returns ErrNoJSON when nothing parseable was found.
func ParseVerdicts(raw string, known map[string]bool) ([]AgentVerdict, error) {
	candidate := ExtractJSONBlock(raw)

	items, err := decodeVerdictList(candidate)
	if err != nil {
		// The fenced block may have been prose; fall back to bracket
		// slicing over the full reply.
		if sliced, ok := bracketSlice(raw, '[', ']'); ok {
			items, err = decodeVerdictList(sliced)
		}
		if err != nil {
			if sliced, ok := bracketSlice(raw, '{', '}'); ok {
				items, err = decodeVerdictList(sliced)
			}
		}
		if err != nil {
			return nil, ErrNoJSON
		}
	}

	out := make([]AgentVerdict, 0, len(items))
	for _, item := range items {
		id := coerceString(item.ExternalID)
		if id == "" || !known[id] {
			continue
		}
		out = append(out, AgentVerdict{
			ExternalID: id,
			Selected:   coerceBool(item.IsSelected, true),
			Score:      coerceScore(item.Score, 0.5),
			Summary:    coerceString(item.Summary),
			Highlights: coerceStrings(item.Highlights),
		})
	}
	return out, nil
}

// ExtractJSONBlock prefers the contents of a ```json fenced block,
// then any fenced block, then the input unchanged.
func ExtractJSONBlock(raw string) string {
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(raw, fence)
		if start < 0 {
			continue
		}
		rest := raw[start+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(rest[:end])
	}
	return strings.TrimSpace(raw)
}

// decodeVerdictList parses either a JSON array of verdicts or a single
// verdict object, which is wrapped as a one-element list.
func decodeVerdictList(s string) ([]rawVerdict, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoJSON
	}

	var list []rawVerdict
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return list, nil
	}

	var single rawVerdict
	if err := json.Unmarshal([]byte(s), &single); err == nil {
		return []rawVerdict{single}, nil
	}
	return nil, ErrNoJSON
}

// bracketSlice returns the substring from the first open to the last
// close bracket, if both exist in order.
func bracketSlice(raw string, opening, closing byte) (string, bool) {
	start := strings.IndexByte(raw, opening)
	end := strings.LastIndexByte(raw, closing)
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		// Integral ids come back as JSON numbers.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func coerceBool(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func coerceScore(v any, fallback float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	case bool:
		if t {
			return 1
		}
		return 0
	}
	return fallback
}

func coerceStrings(vs []any) []string {
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if s := coerceString(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
