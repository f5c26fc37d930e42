package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"litwatch/internal/domain"
	"litwatch/internal/ports"
)

// Reconciler merges a freshly filtered document set into storage
// without creating duplicates across repeated runs. Identity is
// (task id, source name, external id): re-discovering the same item is
// an update, never a new row.
type Reconciler struct {
	docs   ports.DocumentRepository
	logger *slog.Logger
}

// NewReconciler wires the document repository.
func NewReconciler(docs ports.DocumentRepository, logger *slog.Logger) *Reconciler {
	return &Reconciler{docs: docs, logger: logger}
}

// ReconcileStats counts what one reconciliation did.
type ReconcileStats struct {
	Created int
	Updated int
}

// Persist upserts every evaluated document, selected or not: a
// rejection is a recorded fact, not an omission. Returns the selected
// subset paired with its verdicts for notification.
func (r *Reconciler) Persist(
	ctx context.Context,
	taskID, runID int64,
	sourceName string,
	docs []domain.RawDocument,
	verdicts map[string]domain.Verdict,
	userKeywords []string,
) ([]ports.SelectedDocument, ReconcileStats, error) {
	var (
		stats    ReconcileStats
		selected []ports.SelectedDocument
	)

	for _, raw := range docs {
		verdict, ok := verdicts[raw.ExternalID]
		if !ok {
			// Beyond the per-source cap: not evaluated, not persisted.
			continue
		}

		doc, created, err := r.upsert(ctx, taskID, runID, sourceName, raw, verdict, userKeywords)
		if err != nil {
			return nil, stats, err
		}
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}

		if verdict.Summary != "" {
			summary := &domain.DocumentSummary{
				DocumentID: doc.ID,
				Summary:    verdict.Summary,
				Highlights: verdict.Highlights,
				AgentMeta:  map[string]any{"origin": string(verdict.Origin)},
			}
			if err := r.docs.ReplaceSummary(ctx, summary); err != nil {
				return nil, stats, fmt.Errorf("replace summary for %s: %w", raw.ExternalID, err)
			}
		}

		if verdict.Selected {
			selected = append(selected, ports.SelectedDocument{Document: *doc, Verdict: verdict})
		}
	}

	r.logger.Info("documents persisted", "source", sourceName,
		"created", stats.Created, "updated", stats.Updated, "selected", len(selected))
	return selected, stats, nil
}

func (r *Reconciler) upsert(
	ctx context.Context,
	taskID, runID int64,
	sourceName string,
	raw domain.RawDocument,
	verdict domain.Verdict,
	userKeywords []string,
) (*domain.Document, bool, error) {
	existing, err := r.docs.GetByExternal(ctx, taskID, sourceName, raw.ExternalID)
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s/%s: %w", sourceName, raw.ExternalID, err)
	}

	if existing != nil {
		existing.IsFilteredIn = verdict.Selected
		existing.RankScore = verdict.Score
		if len(userKeywords) > 0 {
			existing.UserKeywords = userKeywords
		}
		// A document belongs to its most recent discovering run.
		existing.RunID = runID
		if err := r.docs.Update(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("update %s/%s: %w", sourceName, raw.ExternalID, err)
		}
		return existing, false, nil
	}

	doc := &domain.Document{
		TaskID:       taskID,
		RunID:        runID,
		SourceName:   sourceName,
		ExternalID:   raw.ExternalID,
		Title:        raw.Title,
		Abstract:     raw.Abstract,
		Authors:      raw.Authors,
		URL:          raw.URL,
		PublishedAt:  raw.PublishedAt,
		Keywords:     raw.Keywords,
		UserKeywords: userKeywords,
		Extra:        raw.Extra,
		IsFilteredIn: verdict.Selected,
		RankScore:    verdict.Score,
	}
	if err := r.docs.Insert(ctx, doc); err != nil {
		return nil, false, fmt.Errorf("insert %s/%s: %w", sourceName, raw.ExternalID, err)
	}
	return doc, true, nil
}
