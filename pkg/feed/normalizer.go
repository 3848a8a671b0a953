package feed

import (
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/umputun/feedwise/pkg/domain"
)

const (
	unknownAuthor          = "Unknown"
	placeholderDescription = "No description available"
)

// Normalizer converts raw feed items into canonical article drafts.
// Pure transformation, no network or storage access.
type Normalizer struct {
	stripPolicy *bluemonday.Policy
}

// NewNormalizer creates a normalizer with a strict HTML stripping policy
func NewNormalizer() *Normalizer {
	return &Normalizer{stripPolicy: bluemonday.StrictPolicy()}
}

// Normalize builds an article draft from a raw item. The owning feed
// supplies ownership, back-reference and the inherited tag set; now is the
// ingestion time used when the item carries no usable publish date.
func (n *Normalizer) Normalize(item domain.ParsedItem, f *domain.Feed, now time.Time) domain.Article {
	article := domain.Article{
		OwnerID:        f.OwnerID,
		FeedID:         f.ID,
		Title:          strings.TrimSpace(item.Title),
		Link:           strings.TrimSpace(item.Link),
		Author:         n.author(item),
		Description:    n.description(item),
		ImageURL:       item.EnclosureURL,
		Tags:           append([]string(nil), f.Tags...), // snapshot at ingestion time
		RelevanceScore: 0.5,
	}

	if item.Published != nil && !item.Published.IsZero() {
		article.Published = *item.Published
	} else {
		article.Published = now
	}

	return article
}

// author resolves the author through the fallback chain:
// direct author, first of the author list, dc:creator, "Unknown"
func (n *Normalizer) author(item domain.ParsedItem) string {
	if a := strings.TrimSpace(item.Author); a != "" {
		return a
	}
	if len(item.Authors) > 0 {
		if a := strings.TrimSpace(item.Authors[0]); a != "" {
			return a
		}
	}
	if a := strings.TrimSpace(item.Creator); a != "" {
		return a
	}
	return unknownAuthor
}

// description resolves a non-empty plain-text description: the snippet,
// then the stripped HTML body, then a string synthesized from the title,
// then a generic placeholder
func (n *Normalizer) description(item domain.ParsedItem) string {
	if d := strings.TrimSpace(item.Snippet); d != "" {
		return d
	}
	if item.BodyHTML != "" {
		if d := n.stripHTML(item.BodyHTML); d != "" {
			return d
		}
	}
	if t := strings.TrimSpace(item.Title); t != "" {
		return "Article about " + t
	}
	return placeholderDescription
}

// stripHTML removes markup and collapses whitespace
func (n *Normalizer) stripHTML(s string) string {
	text := n.stripPolicy.Sanitize(s)
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}
