package sources

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"litwatch/internal/retrieval"
	"litwatch/internal/retry"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2401.12345v2</id>
    <title>Efficient  Attention
      for Long Sequences</title>
    <summary>We propose a method.</summary>
    <published>2024-01-20T18:00:00Z</published>
    <author><name>A. Researcher</name></author>
    <author><name>B. Colleague</name></author>
    <link href="http://arxiv.org/abs/2401.12345v2" rel="alternate" type="text/html"/>
    <category term="cs.LG"/>
    <category term="cs.CL"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.67890v1</id>
    <title>Another Paper</title>
    <summary>Second abstract.</summary>
    <published>2024-01-19T12:00:00Z</published>
    <author><name>C. Author</name></author>
  </entry>
</feed>`

func testArxiv(endpoint string) *ArxivAPI {
	return &ArxivAPI{
		endpoint: endpoint,
		client:   http.DefaultClient,
		policy:   retry.Policy{MaxAttempts: 2, InitialInterval: 1, Multiplier: 2},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestArxivSearchParsesFeed(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	src := testArxiv(server.URL)
	docs, err := src.Search(context.Background(), retrieval.Request{
		Keywords: []string{"efficient attention", "long context"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotQuery != `all:"efficient attention" OR all:"long context"` {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	doc := docs[0]
	if doc.ExternalID != "2401.12345" {
		t.Fatalf("version suffix not stripped: %q", doc.ExternalID)
	}
	if doc.Title != "Efficient Attention for Long Sequences" {
		t.Fatalf("whitespace not collapsed: %q", doc.Title)
	}
	if len(doc.Authors) != 2 || doc.Authors[0] != "A. Researcher" {
		t.Fatalf("authors wrong: %v", doc.Authors)
	}
	if len(doc.Keywords) != 2 || doc.Keywords[0] != "cs.LG" {
		t.Fatalf("categories wrong: %v", doc.Keywords)
	}
	if doc.PublishedAt == nil || doc.PublishedAt.Day() != 20 {
		t.Fatalf("published date wrong: %v", doc.PublishedAt)
	}
}

func TestArxivSearchExplicitQueryParameter(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	}))
	defer server.Close()

	src := testArxiv(server.URL)
	_, err := src.Search(context.Background(), retrieval.Request{
		Keywords:   []string{"ignored"},
		Parameters: map[string]any{"query": "cat:cs.LG AND abs:attention"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "cat:cs.LG AND abs:attention" {
		t.Fatalf("query parameter not honored: %q", gotQuery)
	}
}

func TestArxivSearchRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	src := testArxiv(server.URL)
	docs, err := src.Search(context.Background(), retrieval.Request{Prompt: "attention"})
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
}

func TestArxivSearchClientErrorNotRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	src := testArxiv(server.URL)
	if _, err := src.Search(context.Background(), retrieval.Request{Prompt: "attention"}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("client error must not be retried, got %d calls", calls)
	}
}

func TestArxivSearchEmptyRequest(t *testing.T) {
	src := testArxiv("http://unused.invalid")
	docs, err := src.Search(context.Background(), retrieval.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs != nil {
		t.Fatalf("expected no documents, got %v", docs)
	}
}

func TestArxivIDExtraction(t *testing.T) {
	cases := map[string]string{
		"http://arxiv.org/abs/2401.12345v2":       "2401.12345",
		"http://arxiv.org/abs/2401.12345":         "2401.12345",
		"http://arxiv.org/abs/cond-mat/0703470v1": "cond-mat/0703470",
		"2401.00001": "2401.00001",
	}
	for input, want := range cases {
		if got := arxivID(input); got != want {
			t.Fatalf("arxivID(%q) = %q, want %q", input, got, want)
		}
	}
}
