// Package filtering implements the two-stage document filtering
// protocol: a cheap high-recall coarse pass over title digests,
// followed by a detailed fine pass over the survivors. Agent output is
// untrusted; thresholds and score clamping are always enforced locally.
package filtering

import (
	"context"
	"fmt"
	"log/slog"

	"litwatch/internal/domain"
	"litwatch/internal/ports"
	"litwatch/internal/retry"
)

const (
	// coarseRelaxation loosens the coarse threshold below the
	// configured minimum; coarseFloor bounds it from below.
	coarseRelaxation = 0.2
	coarseFloor      = 0.2

	summaryLimit         = 500
	highlightLimit       = 5
	fallbackSummaryLimit = 200
)

// Context carries the task-level inputs of one filtering invocation.
type Context struct {
	Prompt   string
	Keywords []string
	Config   domain.FilterConfig
	Model    string
}

// Pipeline runs coarse then fine filtering over a document set in
// fixed-size batches with per-batch retry and fail-open fallback.
type Pipeline struct {
	agent  ports.EvaluationAgent
	policy retry.Policy
	logger *slog.Logger
}

// NewPipeline wires the evaluation agent and the shared retry policy.
func NewPipeline(agent ports.EvaluationAgent, policy retry.Policy, logger *slog.Logger) *Pipeline {
	return &Pipeline{agent: agent, policy: policy, logger: logger}
}

// Filter produces exactly one verdict per considered document. Input
// beyond the per-source document cap is not considered at all. The
// returned map is keyed by external id.
func (p *Pipeline) Filter(ctx context.Context, fc Context, docs []domain.RawDocument) map[string]domain.Verdict {
	cfg := fc.Config.Normalized()
	fc.Config = cfg

	if len(docs) > cfg.MaxDocsPerSource {
		p.logger.Info("capping documents for filtering", "considered", cfg.MaxDocsPerSource, "retrieved", len(docs))
		docs = docs[:cfg.MaxDocsPerSource]
	}
	if len(docs) == 0 {
		return map[string]domain.Verdict{}
	}

	if !cfg.Enabled {
		p.logger.Info("filtering disabled, accepting all documents", "count", len(docs))
		verdicts := make(map[string]domain.Verdict, len(docs))
		for _, doc := range docs {
			verdicts[doc.ExternalID] = fallbackVerdict(doc, true)
		}
		return verdicts
	}

	coarseThreshold := cfg.MinRelevanceScore - coarseRelaxation
	if coarseThreshold < coarseFloor {
		coarseThreshold = coarseFloor
	}

	coarse := p.runStage(ctx, stage{
		name:        "coarse",
		batchSize:   cfg.CoarseBatchSize,
		threshold:   coarseThreshold,
		buildPrompt: BuildCoarsePrompt,
		fallback:    func(doc domain.RawDocument) domain.Verdict { return fallbackVerdict(doc, false) },
	}, fc, docs)

	survivors := make([]domain.RawDocument, 0, len(docs))
	for _, doc := range docs {
		if coarse[doc.ExternalID].Selected {
			survivors = append(survivors, doc)
		}
	}
	p.logger.Info("coarse stage done", "survivors", len(survivors), "considered", len(docs))

	fine := p.runStage(ctx, stage{
		name:        "fine",
		batchSize:   cfg.FineBatchSize,
		threshold:   cfg.MinRelevanceScore,
		buildPrompt: BuildFinePrompt,
		fallback:    func(doc domain.RawDocument) domain.Verdict { return fallbackVerdict(doc, true) },
	}, fc, survivors)

	// Merge: fine verdict where the document reached the fine stage,
	// coarse verdict otherwise. Every considered document ends with
	// exactly one verdict.
	final := make(map[string]domain.Verdict, len(docs))
	for _, doc := range docs {
		if v, ok := fine[doc.ExternalID]; ok {
			final[doc.ExternalID] = v
			continue
		}
		final[doc.ExternalID] = coarse[doc.ExternalID]
	}
	return final
}

// stage parameterizes one filtering pass.
type stage struct {
	name        string
	batchSize   int
	threshold   float64
	buildPrompt func(Context, []domain.RawDocument) string
	fallback    func(domain.RawDocument) domain.Verdict
}

func (p *Pipeline) runStage(ctx context.Context, st stage, fc Context, docs []domain.RawDocument) map[string]domain.Verdict {
	verdicts := make(map[string]domain.Verdict, len(docs))
	for start := 0; start < len(docs); start += st.batchSize {
		end := start + st.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		p.runBatch(ctx, st, fc, docs[start:end], verdicts)
	}
	return verdicts
}

// runBatch asks the agent to judge one batch, retrying transient
// failures, and records a verdict for every document in the batch.
func (p *Pipeline) runBatch(ctx context.Context, st stage, fc Context, batch []domain.RawDocument, verdicts map[string]domain.Verdict) {
	known := make(map[string]bool, len(batch))
	for _, doc := range batch {
		known[doc.ExternalID] = true
	}

	prompt := st.buildPrompt(fc, batch)

	var parsed []AgentVerdict
	err := p.policy.WithAttempts(fc.Config.MaxRetries).Do(ctx, func() error {
		raw, callErr := p.agent.Evaluate(ctx, fc.Model, prompt)
		if callErr != nil {
			return fmt.Errorf("evaluate %s batch: %w", st.name, callErr)
		}
		items, parseErr := ParseVerdicts(raw, known)
		if parseErr != nil {
			return fmt.Errorf("parse %s batch: %w", st.name, parseErr)
		}
		parsed = items
		return nil
	})
	if err != nil {
		// Fail open: agent flakiness must not lose candidates.
		p.logger.Warn("batch exhausted retry budget, failing open",
			"stage", st.name, "size", len(batch), "error", err)
		for _, doc := range batch {
			verdicts[doc.ExternalID] = st.fallback(doc)
		}
		return
	}

	byID := make(map[string]AgentVerdict, len(parsed))
	for _, item := range parsed {
		byID[item.ExternalID] = item
	}
	for _, doc := range batch {
		item, ok := byID[doc.ExternalID]
		if !ok {
			p.logger.Warn("document missing from agent output, rejecting",
				"stage", st.name, "external_id", doc.ExternalID, "title", truncate(doc.Title, 50))
			verdicts[doc.ExternalID] = domain.Verdict{
				ExternalID: doc.ExternalID,
				Selected:   false,
				Score:      0,
				Origin:     domain.OriginMissing,
			}
			continue
		}
		verdicts[doc.ExternalID] = enforceThreshold(item, st.threshold, stageOrigin(st.name))
	}
}

// enforceThreshold converts an agent verdict into a final one: scores
// clamped to [0,1] and a claimed selection downgraded when the score
// sits below the active threshold. The agent is never trusted on this.
func enforceThreshold(item AgentVerdict, threshold float64, origin domain.VerdictOrigin) domain.Verdict {
	score := domain.ClampScore(item.Score)
	selected := item.Selected
	if selected && score < threshold {
		selected = false
	}
	highlights := item.Highlights
	if len(highlights) > highlightLimit {
		highlights = highlights[:highlightLimit]
	}
	return domain.Verdict{
		ExternalID: item.ExternalID,
		Selected:   selected,
		Score:      score,
		Summary:    truncate(item.Summary, summaryLimit),
		Highlights: highlights,
		Origin:     origin,
	}
}

// fallbackVerdict is the neutral fail-open result: accepted with an
// unscored 0.5 that is visibly distinguishable from an agent judgment.
// Fine-stage fallbacks derive a summary from the raw abstract.
func fallbackVerdict(doc domain.RawDocument, withSummary bool) domain.Verdict {
	v := domain.Verdict{
		ExternalID: doc.ExternalID,
		Selected:   true,
		Score:      0.5,
		Origin:     domain.OriginFallback,
	}
	if withSummary {
		v.Summary = truncate(doc.Abstract, fallbackSummaryLimit)
	}
	return v
}

func stageOrigin(name string) domain.VerdictOrigin {
	if name == "fine" {
		return domain.OriginFine
	}
	return domain.OriginCoarse
}
