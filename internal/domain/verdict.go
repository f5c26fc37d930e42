package domain

// VerdictOrigin records which stage (or fallback path) produced a verdict.
type VerdictOrigin string

const (
	// OriginCoarse: judged by the coarse stage and not re-evaluated.
	OriginCoarse VerdictOrigin = "coarse"
	// OriginFine: judged by the fine stage.
	OriginFine VerdictOrigin = "fine"
	// OriginFallback: a batch exhausted its retry budget; the verdict
	// is the neutral fail-open default, not an agent judgment.
	OriginFallback VerdictOrigin = "fallback"
	// OriginMissing: the agent's output omitted the document; rejected
	// with score zero so it is never silently dropped.
	OriginMissing VerdictOrigin = "missing"
)

// Verdict is the final, locally-enforced judgment for one document.
// Scores are clamped to [0,1] and the selection flag has already been
// downgraded if the score fell below the active threshold.
type Verdict struct {
	ExternalID string
	Selected   bool
	Score      float64
	Summary    string
	Highlights []string
	Origin     VerdictOrigin
}

// ClampScore forces a score into [0,1].
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
