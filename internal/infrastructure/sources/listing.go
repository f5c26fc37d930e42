package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"litwatch/internal/domain"
	"litwatch/internal/retrieval"
)

const (
	listingSourceName = "arxiv_listing"
	listingBaseURL    = "https://arxiv.org"
	listingPageSize   = 200
	listingMaxDocs    = 500
)

var listingDateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// ArxivListing crawls arXiv category listing pages. Unlike the API
// source it sees new announcements the moment the listing updates,
// at the cost of HTML scraping.
type ArxivListing struct {
	client   *http.Client
	baseURL  string
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

var _ retrieval.Source = (*ArxivListing)(nil)

// NewArxivListing wires an HTTP client; pageSize defaults to 200.
func NewArxivListing(client *http.Client, logger *slog.Logger) *ArxivListing {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ArxivListing{
		client:   client,
		baseURL:  listingBaseURL,
		pageSize: listingPageSize,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *ArxivListing) Name() string { return listingSourceName }

// Search walks the configured category listings and collects entries
// no older than the cutoff window. Categories come from the
// "categories" parameter; the window from "days_back" (default 1).
func (l *ArxivListing) Search(ctx context.Context, req retrieval.Request) ([]domain.RawDocument, error) {
	categories := l.categories(req)
	if len(categories) == 0 {
		return nil, fmt.Errorf("listing source requires a categories parameter")
	}

	daysBack := req.IntParam("days_back", 1)
	if daysBack < 1 {
		daysBack = 1
	}
	cutoff := l.now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -daysBack)

	seen := map[string]struct{}{}
	results := make([]domain.RawDocument, 0)

	for _, cat := range categories {
		docs, err := l.scanCategory(ctx, cat, cutoff)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat, err)
		}
		for _, doc := range docs {
			if _, ok := seen[doc.ExternalID]; ok {
				continue
			}
			seen[doc.ExternalID] = struct{}{}
			results = append(results, doc)
			if len(results) >= listingMaxDocs {
				return results, nil
			}
		}
	}

	l.logger.Debug("listing scan finished", "categories", len(categories), "results", len(results))
	return results, nil
}

func (l *ArxivListing) categories(req retrieval.Request) []string {
	raw, ok := req.Parameters["categories"]
	if !ok {
		if single := req.StringParam("category", ""); single != "" {
			return []string{single}
		}
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	default:
		return nil
	}
}

func (l *ArxivListing) scanCategory(ctx context.Context, category string, cutoff time.Time) ([]domain.RawDocument, error) {
	var results []domain.RawDocument

	skip := 0
	for {
		pageURL, err := l.pageURL(category, skip)
		if err != nil {
			return nil, err
		}

		page, err := l.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		docs, keepGoing := l.extractEntries(page, category, cutoff)
		results = append(results, docs...)

		if !keepGoing {
			return results, nil
		}
		skip += l.pageSize
	}
}

func (l *ArxivListing) pageURL(category string, skip int) (string, error) {
	base := category
	if !strings.HasPrefix(base, "http") {
		base = fmt.Sprintf("%s/list/%s/recent", l.baseURL, strings.TrimSpace(category))
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %s: %w", base, err)
	}
	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(l.pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (l *ArxivListing) fetchPage(ctx context.Context, pageURL string) (*goquery.Document, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "litwatch/1.0")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request listing page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing page returned %s", resp.Status)
	}

	page, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}
	return page, nil
}

// extractEntries pulls documents from one listing page. The second
// return value reports whether older pages may still hold entries
// inside the cutoff window.
func (l *ArxivListing) extractEntries(page *goquery.Document, category string, cutoff time.Time) ([]domain.RawDocument, bool) {
	var (
		collected []domain.RawDocument
		keepGoing = true
		processed int
	)

	page.Find("dl > dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		dd := dt.Next()
		processed++

		doc, publishedAt, ok := l.parseListingEntry(dt, dd, category)
		if !ok {
			return true
		}

		day := publishedAt.UTC().Truncate(24 * time.Hour)
		if day.Before(cutoff) {
			keepGoing = false
			return false
		}
		collected = append(collected, doc)
		return true
	})

	if processed < l.pageSize {
		keepGoing = false
	}
	return collected, keepGoing
}

func (l *ArxivListing) parseListingEntry(dt, dd *goquery.Selection, category string) (domain.RawDocument, time.Time, bool) {
	link := dt.Find(`a[href*="/abs/"]`).First()

	id := strings.TrimSpace(link.Text())
	id = strings.TrimPrefix(id, "arXiv:")
	href, _ := link.Attr("href")
	if id == "" {
		id = strings.TrimPrefix(href, "/abs/")
	}
	if id == "" {
		return domain.RawDocument{}, time.Time{}, false
	}
	if !strings.HasPrefix(href, "http") {
		href = l.baseURL + href
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Title:"))

	abstract := strings.TrimSpace(dd.Find(".mathjax").First().Text())
	abstract = strings.TrimSpace(strings.TrimPrefix(abstract, "Abstract:"))

	var authors []string
	dd.Find(".list-authors a").Each(func(_ int, a *goquery.Selection) {
		if name := strings.TrimSpace(a.Text()); name != "" {
			authors = append(authors, name)
		}
	})

	publishedAt := l.now().UTC()
	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}
	if match := listingDateExpr.FindString(dateText); match != "" {
		if parsed, err := time.Parse("2 Jan 2006", match); err == nil {
			publishedAt = parsed
		}
	}

	doc := domain.RawDocument{
		ExternalID:  id,
		Title:       collapseWhitespace(title),
		Abstract:    collapseWhitespace(abstract),
		Authors:     authors,
		URL:         href,
		PublishedAt: &publishedAt,
		Keywords:    []string{category},
		Extra:       map[string]any{"category": category},
	}
	return doc, publishedAt, true
}
