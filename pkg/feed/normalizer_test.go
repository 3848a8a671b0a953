package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/umputun/feedwise/pkg/domain"
)

func TestNormalizer_Author(t *testing.T) {
	n := NewNormalizer()
	owner := &domain.Feed{ID: 1, OwnerID: 7}
	now := time.Now()

	tests := []struct {
		name string
		item domain.ParsedItem
		want string
	}{
		{"direct author", domain.ParsedItem{Author: "Jane Roe"}, "Jane Roe"},
		{"author list", domain.ParsedItem{Authors: []string{"First Author", "Second Author"}}, "First Author"},
		{"creator fallback", domain.ParsedItem{Creator: "DC Creator"}, "DC Creator"},
		{"direct wins over list", domain.ParsedItem{Author: "Direct", Authors: []string{"Listed"}}, "Direct"},
		{"whitespace author falls through", domain.ParsedItem{Author: "   ", Creator: "Real One"}, "Real One"},
		{"nothing at all", domain.ParsedItem{}, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			article := n.Normalize(tt.item, owner, now)
			assert.Equal(t, tt.want, article.Author)
		})
	}
}

func TestNormalizer_Description(t *testing.T) {
	n := NewNormalizer()
	owner := &domain.Feed{ID: 1, OwnerID: 7}
	now := time.Now()

	t.Run("snippet preferred", func(t *testing.T) {
		article := n.Normalize(domain.ParsedItem{Snippet: "  plain text  ", BodyHTML: "<p>html</p>"}, owner, now)
		assert.Equal(t, "plain text", article.Description)
	})

	t.Run("html body stripped", func(t *testing.T) {
		article := n.Normalize(domain.ParsedItem{BodyHTML: "<p>First   paragraph.</p>\n<p>Second &amp; more.</p>"}, owner, now)
		assert.Equal(t, "First paragraph. Second & more.", article.Description)
	})

	t.Run("synthesized from title", func(t *testing.T) {
		article := n.Normalize(domain.ParsedItem{Title: "Go Generics"}, owner, now)
		assert.Equal(t, "Article about Go Generics", article.Description)
	})

	t.Run("generic placeholder", func(t *testing.T) {
		article := n.Normalize(domain.ParsedItem{Link: "https://example.com/x"}, owner, now)
		assert.NotEmpty(t, article.Description)
		assert.Equal(t, strings.TrimSpace(article.Description), article.Description)
	})

	t.Run("never whitespace only", func(t *testing.T) {
		article := n.Normalize(domain.ParsedItem{Snippet: "   \n\t  ", Link: "https://example.com/y"}, owner, now)
		assert.NotEmpty(t, strings.TrimSpace(article.Description))
	})
}

func TestNormalizer_DateAndImage(t *testing.T) {
	n := NewNormalizer()
	owner := &domain.Feed{ID: 1, OwnerID: 7}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("published kept", func(t *testing.T) {
		published := time.Date(2024, 5, 20, 8, 30, 0, 0, time.UTC)
		article := n.Normalize(domain.ParsedItem{Published: &published}, owner, now)
		assert.Equal(t, published, article.Published)
	})

	t.Run("missing date defaults to ingestion time", func(t *testing.T) {
		article := n.Normalize(domain.ParsedItem{}, owner, now)
		assert.Equal(t, now, article.Published)
	})

	t.Run("zero date defaults to ingestion time", func(t *testing.T) {
		var zero time.Time
		article := n.Normalize(domain.ParsedItem{Published: &zero}, owner, now)
		assert.Equal(t, now, article.Published)
	})

	t.Run("first enclosure becomes image", func(t *testing.T) {
		article := n.Normalize(domain.ParsedItem{EnclosureURL: "https://example.com/pic.jpg"}, owner, now)
		assert.Equal(t, "https://example.com/pic.jpg", article.ImageURL)
	})
}

func TestNormalizer_TagsAndDefaults(t *testing.T) {
	n := NewNormalizer()
	owner := &domain.Feed{ID: 3, OwnerID: 7, Tags: []string{"golang", "news"}}
	now := time.Now()

	article := n.Normalize(domain.ParsedItem{Title: "T", Link: "https://example.com/a"}, owner, now)

	assert.Equal(t, int64(7), article.OwnerID)
	assert.Equal(t, int64(3), article.FeedID)
	assert.Equal(t, []string{"golang", "news"}, article.Tags)
	assert.False(t, article.IsRead)
	assert.False(t, article.IsSaved)
	assert.InDelta(t, 0.5, article.RelevanceScore, 0.0001)

	// tag set is a snapshot, later feed changes must not leak in
	owner.Tags[0] = "changed"
	assert.Equal(t, "golang", article.Tags[0])
}
