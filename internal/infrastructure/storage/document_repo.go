package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"litwatch/internal/domain"
	"litwatch/internal/ports"
)

// DocumentRepo persists evaluated documents and their summaries.
type DocumentRepo struct {
	db *DB
	sb sq.StatementBuilderType
}

var _ ports.DocumentRepository = (*DocumentRepo)(nil)

// NewDocumentRepo wires the shared pool.
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const documentColumns = `
id, task_id, run_id, source_name, external_id, title,
COALESCE(abstract,''), authors, COALESCE(url,''), published_at,
keywords, user_keywords, extra_metadata, is_filtered_in,
COALESCE(rank_score, 0), COALESCE(export_key,''), created_at`

// GetByExternal looks a document up by its identity key. Returns
// (nil, nil) when no row matches.
func (r *DocumentRepo) GetByExternal(ctx context.Context, taskID int64, sourceName, externalID string) (*domain.Document, error) {
	row := r.db.Pool.QueryRow(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE task_id=$1 AND source_name=$2 AND external_id=$3`,
		taskID, sourceName, externalID)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s/%s: %w", sourceName, externalID, err)
	}
	return doc, nil
}

// Insert creates a new document row and fills doc.ID.
func (r *DocumentRepo) Insert(ctx context.Context, doc *domain.Document) error {
	authors, err := jsonParam(doc.Authors, "[]")
	if err != nil {
		return err
	}
	keywords, err := jsonParam(doc.Keywords, "[]")
	if err != nil {
		return err
	}
	userKeywords, err := jsonParam(doc.UserKeywords, "[]")
	if err != nil {
		return err
	}
	extra, err := jsonParam(doc.Extra, "{}")
	if err != nil {
		return err
	}

	err = r.db.Pool.QueryRow(ctx, `
INSERT INTO documents (
  task_id, run_id, source_name, external_id, title, abstract, authors,
  url, published_at, keywords, user_keywords, extra_metadata,
  is_filtered_in, rank_score, export_key
) VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, NULLIF($8,''), $9, $10, $11, $12, $13, $14, NULLIF($15,''))
RETURNING id, created_at`,
		doc.TaskID, doc.RunID, doc.SourceName, doc.ExternalID, doc.Title,
		doc.Abstract, authors, doc.URL, doc.PublishedAt, keywords,
		userKeywords, extra, doc.IsFilteredIn, doc.RankScore, doc.ExportKey,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document %s/%s: %w", doc.SourceName, doc.ExternalID, err)
	}
	return nil
}

// Update rewrites the verdict-bearing fields of an existing row: the
// selection flag, score, echoed user keywords and the run pointer.
func (r *DocumentRepo) Update(ctx context.Context, doc *domain.Document) error {
	userKeywords, err := jsonParam(doc.UserKeywords, "[]")
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
UPDATE documents
SET run_id=$2, is_filtered_in=$3, rank_score=$4, user_keywords=$5
WHERE id=$1`,
		doc.ID, doc.RunID, doc.IsFilteredIn, doc.RankScore, userKeywords,
	)
	if err != nil {
		return fmt.Errorf("update document %d: %w", doc.ID, err)
	}
	return nil
}

// ReplaceSummary upserts the single summary row of a document; a new
// verdict overwrites the previous synopsis in place.
func (r *DocumentRepo) ReplaceSummary(ctx context.Context, summary *domain.DocumentSummary) error {
	highlights, err := jsonParam(summary.Highlights, "[]")
	if err != nil {
		return err
	}
	meta, err := jsonParam(summary.AgentMeta, "{}")
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO document_summaries (document_id, summary, highlights, agent_metadata)
VALUES ($1, $2, $3, $4)
ON CONFLICT (document_id)
DO UPDATE SET
  summary = EXCLUDED.summary,
  highlights = EXCLUDED.highlights,
  agent_metadata = EXCLUDED.agent_metadata,
  created_at = NOW()`,
		summary.DocumentID, summary.Summary, highlights, meta,
	)
	if err != nil {
		return fmt.Errorf("replace summary for document %d: %w", summary.DocumentID, err)
	}
	return nil
}

// ListFilter narrows a document listing. By default only documents
// filtered in as relevant are returned; ShowAll includes rejections.
type ListFilter struct {
	TaskID     int64
	SourceName string
	Keyword    string
	Since      *time.Time
	Until      *time.Time
	ShowAll    bool
	Limit      uint64
	Offset     uint64
}

func (f ListFilter) conditions() sq.And {
	conditions := sq.And{}
	if !f.ShowAll {
		conditions = append(conditions, sq.Eq{"is_filtered_in": true})
	}
	if f.TaskID > 0 {
		conditions = append(conditions, sq.Eq{"task_id": f.TaskID})
	}
	if f.SourceName != "" {
		conditions = append(conditions, sq.Eq{"source_name": f.SourceName})
	}
	if f.Keyword != "" {
		conditions = append(conditions, sq.Expr("user_keywords @> ?::jsonb", fmt.Sprintf("[%q]", f.Keyword)))
	}
	if f.Since != nil {
		conditions = append(conditions, sq.GtOrEq{"published_at": *f.Since})
	}
	if f.Until != nil {
		conditions = append(conditions, sq.LtOrEq{"published_at": *f.Until})
	}
	return conditions
}

func (r *DocumentRepo) countQuery(filter ListFilter) sq.SelectBuilder {
	return r.sb.Select("COUNT(*)").From("documents").Where(filter.conditions())
}

func (r *DocumentRepo) listQuery(filter ListFilter) sq.SelectBuilder {
	limit := filter.Limit
	if limit == 0 {
		limit = 50
	}
	return r.sb.Select(documentColumns).
		From("documents").
		Where(filter.conditions()).
		OrderBy("published_at DESC NULLS LAST", "id DESC").
		Limit(limit).
		Offset(filter.Offset)
}

// List returns a filtered, paginated document set and the total count.
func (r *DocumentRepo) List(ctx context.Context, filter ListFilter) ([]domain.Document, int, error) {
	countSQL, countArgs, err := r.countQuery(filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.db.Pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	listSQL, listArgs, err := r.listQuery(filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate documents: %w", err)
	}
	return out, total, nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var (
		doc          domain.Document
		authors      []byte
		keywords     []byte
		userKeywords []byte
		extra        []byte
	)
	err := row.Scan(
		&doc.ID, &doc.TaskID, &doc.RunID, &doc.SourceName, &doc.ExternalID,
		&doc.Title, &doc.Abstract, &authors, &doc.URL, &doc.PublishedAt,
		&keywords, &userKeywords, &extra, &doc.IsFilteredIn,
		&doc.RankScore, &doc.ExportKey, &doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := jsonScan(authors, &doc.Authors); err != nil {
		return nil, err
	}
	if err := jsonScan(keywords, &doc.Keywords); err != nil {
		return nil, err
	}
	if err := jsonScan(userKeywords, &doc.UserKeywords); err != nil {
		return nil, err
	}
	if err := jsonScan(extra, &doc.Extra); err != nil {
		return nil, err
	}
	return &doc, nil
}
