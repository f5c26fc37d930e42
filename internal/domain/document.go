package domain

import "time"

// RawDocument is a candidate item as returned by a retrieval source,
// before any filtering verdict is attached.
type RawDocument struct {
	ExternalID  string
	Title       string
	Abstract    string
	Authors     []string
	URL         string
	PublishedAt *time.Time
	Keywords    []string
	Extra       map[string]any
}

// Document is a persisted candidate, unique per (task, source,
// external id). RunID always points at the most recent run that
// re-discovered it.
type Document struct {
	ID          int64
	TaskID      int64
	RunID       int64
	SourceName  string
	ExternalID  string
	Title       string
	Abstract    string
	Authors     []string
	URL         string
	PublishedAt *time.Time
	Keywords    []string

	// UserKeywords echoes back the task keywords active when the
	// document was last evaluated.
	UserKeywords []string
	Extra        map[string]any

	IsFilteredIn bool
	RankScore    float64
	ExportKey    string

	CreatedAt time.Time
}

// DocumentSummary holds the agent-generated synopsis for a document.
// At most one exists per document; re-runs replace it in place.
type DocumentSummary struct {
	ID         int64
	DocumentID int64
	Summary    string
	Highlights []string
	AgentMeta  map[string]any
	CreatedAt  time.Time
}
