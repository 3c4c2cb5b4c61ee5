package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const newsFixture = `{
	"status": "ok",
	"articles": [
		{
			"title": "Council approves transit levy",
			"description": "The measure heads to the November ballot.",
			"url": "https://news.example.com/transit-levy",
			"urlToImage": "https://news.example.com/levy.jpg",
			"publishedAt": "2026-08-26T14:00:00Z",
			"source": {"name": "Example Times"}
		},
		{
			"title": "",
			"description": "missing title gets dropped",
			"url": "https://news.example.com/broken"
		}
	]
}`

func TestNewsClientSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/everything" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if q := r.URL.Query().Get("q"); q != "transit OR housing" {
			t.Fatalf("unexpected query: %q", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(newsFixture))
	}))
	defer server.Close()

	c := NewNewsClient(server.URL, "test-key")
	articles, err := c.Search(context.Background(), []string{"transit", "housing"}, "wa")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 valid article, got %d", len(articles))
	}

	a := articles[0]
	if a.Title != "Council approves transit levy" || a.Source != "Example Times" {
		t.Fatalf("unexpected article: %+v", a)
	}
	if a.ID != ArticleID("https://news.example.com/transit-levy") {
		t.Fatalf("id not derived from url: %s", a.ID)
	}
	if a.PublishedAt.IsZero() {
		t.Fatal("published_at not parsed")
	}
}

func TestArticleIDStable(t *testing.T) {
	a := ArticleID("https://news.example.com/story")
	b := ArticleID("https://news.example.com/story")
	if a != b {
		t.Fatalf("same url produced different ids: %s vs %s", a, b)
	}
	if a == ArticleID("https://news.example.com/other") {
		t.Fatal("different urls collided")
	}
}

func TestNewsClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewNewsClient(server.URL, "test-key")
	if _, err := c.Search(context.Background(), []string{"transit"}, ""); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
