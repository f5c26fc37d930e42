// Package sources holds the retrieval source implementations behind
// the registry: the arXiv Atom API and category listing pages.
package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"litwatch/internal/domain"
	"litwatch/internal/retrieval"
	"litwatch/internal/retry"
)

const (
	arxivSourceName  = "arxiv_api"
	arxivEndpoint    = "http://export.arxiv.org/api/query"
	arxivMaxResults  = 50
	arxivHTTPTimeout = 30 * time.Second
)

// ArxivAPI queries the arXiv Atom search API.
type ArxivAPI struct {
	endpoint string
	client   *http.Client
	policy   retry.Policy
	logger   *slog.Logger
}

var _ retrieval.Source = (*ArxivAPI)(nil)

// NewArxivAPI builds the source with its default endpoint.
func NewArxivAPI(logger *slog.Logger) *ArxivAPI {
	return &ArxivAPI{
		endpoint: arxivEndpoint,
		client:   &http.Client{Timeout: arxivHTTPTimeout},
		policy:   retry.Default(),
		logger:   logger,
	}
}

func (a *ArxivAPI) Name() string { return arxivSourceName }

// Search runs one query against the API. The search expression comes
// from the "query" parameter when set, otherwise it is assembled from
// the task keywords, falling back to the raw prompt text.
func (a *ArxivAPI) Search(ctx context.Context, req retrieval.Request) ([]domain.RawDocument, error) {
	query := a.buildQuery(req)
	if query == "" {
		return nil, nil
	}
	maxResults := req.IntParam("max_results", arxivMaxResults)

	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprintf("%d", maxResults))
	params.Set("sortBy", req.StringParam("sort_by", "submittedDate"))
	params.Set("sortOrder", req.StringParam("sort_order", "descending"))

	var feed atomFeed
	err := a.policy.Do(ctx, func() error {
		f, err := a.fetch(ctx, params)
		if err != nil {
			return err
		}
		feed = f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("arxiv query %q: %w", query, err)
	}

	docs := make([]domain.RawDocument, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		doc, ok := entry.toDocument()
		if !ok {
			continue
		}
		docs = append(docs, doc)
	}
	a.logger.Debug("arxiv search finished", "query", query, "results", len(docs))
	return docs, nil
}

func (a *ArxivAPI) buildQuery(req retrieval.Request) string {
	if q := req.StringParam("query", ""); q != "" {
		return q
	}
	if len(req.Keywords) > 0 {
		terms := make([]string, 0, len(req.Keywords))
		for _, kw := range req.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			terms = append(terms, fmt.Sprintf("all:%q", kw))
		}
		if len(terms) > 0 {
			return strings.Join(terms, " OR ")
		}
	}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		return fmt.Sprintf("all:%q", p)
	}
	return ""
}

func (a *ArxivAPI) fetch(ctx context.Context, params url.Values) (atomFeed, error) {
	var feed atomFeed

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return feed, retry.Permanent(fmt.Errorf("build request: %w", err))
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return feed, fmt.Errorf("call arxiv api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("arxiv api returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return feed, retry.Permanent(err)
		}
		return feed, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return feed, fmt.Errorf("read response: %w", err)
	}
	if err := xml.Unmarshal(body, &feed); err != nil {
		return feed, retry.Permanent(fmt.Errorf("decode atom feed: %w", err))
	}
	return feed, nil
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Published  string         `xml:"published"`
	Authors    []atomAuthor   `xml:"author"`
	Links      []atomLink     `xml:"link"`
	Categories []atomCategory `xml:"category"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

func (e atomEntry) toDocument() (domain.RawDocument, bool) {
	id := arxivID(e.ID)
	if id == "" {
		return domain.RawDocument{}, false
	}

	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	keywords := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		if c.Term != "" {
			keywords = append(keywords, c.Term)
		}
	}

	doc := domain.RawDocument{
		ExternalID: id,
		Title:      collapseWhitespace(e.Title),
		Abstract:   collapseWhitespace(e.Summary),
		Authors:    authors,
		URL:        e.ID,
		Keywords:   keywords,
		Extra:      map[string]any{"categories": keywords},
	}
	for _, link := range e.Links {
		if link.Rel == "alternate" && link.Href != "" {
			doc.URL = link.Href
		}
	}
	if ts, err := time.Parse(time.RFC3339, e.Published); err == nil {
		doc.PublishedAt = &ts
	}
	return doc, true
}

// arxivID extracts the bare identifier from an entry URL such as
// http://arxiv.org/abs/2401.12345v2.
func arxivID(entryID string) string {
	idx := strings.LastIndex(entryID, "/abs/")
	if idx < 0 {
		return strings.TrimSpace(entryID)
	}
	id := entryID[idx+len("/abs/"):]
	// Drop the version suffix so re-announced revisions dedupe.
	if v := strings.LastIndex(id, "v"); v > 0 && isDigits(id[v+1:]) {
		id = id[:v]
	}
	return id
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
