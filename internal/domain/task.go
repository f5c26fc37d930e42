package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus reflects whether a task participates in scheduling.
type TaskStatus string

const (
	TaskInactive TaskStatus = "inactive"
	TaskActive   TaskStatus = "active"
)

// Task is a user-defined literature monitoring job.
type Task struct {
	ID          int64
	Name        string
	Prompt      string
	Status      TaskStatus
	IsArchived  bool
	RunAtHour   int
	RunAtMinute int
	RunTimezone string

	Keywords []TaskKeyword
	Sources  []TaskSource

	AI            AIConfig
	Filter        FilterConfig
	Notifications NotificationConfig

	CreatedAt time.Time
	UpdatedAt time.Time
	LastRunAt *time.Time
	NextRunAt *time.Time
}

// TaskKeyword is a search term attached to a task. Only user-defined
// keywords feed retrieval; extracted ones are kept for display.
type TaskKeyword struct {
	Keyword       string
	IsUserDefined bool
}

// TaskSource binds a task to a retrieval source with source-specific
// parameters (query overrides, result limits, sort options).
type TaskSource struct {
	SourceName string
	Parameters map[string]any
}

// UserKeywords returns the user-defined subset of the task's keywords.
func (t *Task) UserKeywords() []string {
	out := make([]string, 0, len(t.Keywords))
	for _, kw := range t.Keywords {
		if kw.IsUserDefined {
			out = append(out, kw.Keyword)
		}
	}
	return out
}

// AIConfig overrides the default agent model per task.
type AIConfig struct {
	Model string `json:"model,omitempty" yaml:"model"`
}

// FilterConfig tunes the two-stage filtering pipeline for one task.
type FilterConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	MinRelevanceScore float64 `json:"min_relevance_score" yaml:"minRelevanceScore"`
	MaxDocsPerSource  int     `json:"max_documents_per_source" yaml:"maxDocsPerSource"`
	CoarseBatchSize   int     `json:"coarse_batch_size" yaml:"coarseBatchSize"`
	FineBatchSize     int     `json:"fine_batch_size" yaml:"fineBatchSize"`
	MaxRetries        int     `json:"max_retries" yaml:"maxRetries"`
	FilterPrompt      string  `json:"filter_prompt,omitempty" yaml:"filterPrompt"`
}

// Filtering defaults, applied wherever a task's config leaves a field zero.
const (
	DefaultMinRelevanceScore = 0.4
	DefaultMaxDocsPerSource  = 50
	DefaultCoarseBatchSize   = 30
	DefaultFineBatchSize     = 8
	DefaultMaxRetries        = 3
)

// UnmarshalJSON treats an absent enabled key as enabled: a task whose
// stored filter_config never mentions the flag still gets filtered.
// Only an explicit false turns the pipeline off.
func (c *FilterConfig) UnmarshalJSON(data []byte) error {
	type plain FilterConfig
	aux := struct {
		Enabled *bool `json:"enabled"`
		*plain
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Enabled = aux.Enabled == nil || *aux.Enabled
	return nil
}

// Normalized returns a copy with zero fields replaced by defaults.
func (c FilterConfig) Normalized() FilterConfig {
	if c.MinRelevanceScore <= 0 {
		c.MinRelevanceScore = DefaultMinRelevanceScore
	}
	if c.MaxDocsPerSource <= 0 {
		c.MaxDocsPerSource = DefaultMaxDocsPerSource
	}
	if c.CoarseBatchSize <= 0 {
		c.CoarseBatchSize = DefaultCoarseBatchSize
	}
	if c.FineBatchSize <= 0 {
		c.FineBatchSize = DefaultFineBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// NotificationConfig enumerates the channels a task dispatches to.
type NotificationConfig struct {
	Enabled              bool     `json:"enabled" yaml:"enabled"`
	Channels             []string `json:"channels" yaml:"channels"`
	EmailRecipients      []string `json:"email_recipients" yaml:"emailRecipients"`
	EmailSubjectTemplate string   `json:"email_subject_template,omitempty" yaml:"emailSubjectTemplate"`
	FeishuWebhookURL     string   `json:"feishu_webhook_url,omitempty" yaml:"feishuWebhookURL"`
}
