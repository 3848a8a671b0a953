package domain

import "time"

// Article is a single ingested feed entry owned by a user.
// The (OwnerID, Link) pair is unique; the ingestion engine never creates
// a second article for the same link.
type Article struct {
	ID          int64
	OwnerID     int64
	FeedID      int64
	Title       string
	Description string // never empty, normalizer guarantees a fallback
	Link        string
	Author      string
	Published   time.Time
	Tags        []string
	ImageURL    string
	IsRead      bool
	IsSaved     bool

	// RelevanceScore is a display hint recomputed from current state,
	// never authoritative in storage
	RelevanceScore float64

	CreatedAt time.Time
}

// SavedArticle is a materialized index entry for saved articles, kept in
// step with Article.IsSaved. IsSaved is the source of truth on divergence.
type SavedArticle struct {
	ArticleID int64
	OwnerID   int64
	SavedAt   time.Time
}

// ArticleSummary caches a generated summary per (owner, article).
// Summaries are immutable once computed.
type ArticleSummary struct {
	ArticleID   int64
	OwnerID     int64
	SummaryText string
	CreatedAt   time.Time
}

// ArticleFilter narrows article listings
type ArticleFilter struct {
	FeedID     int64 // 0 means all feeds
	UnreadOnly bool
	Limit      int
	Offset     int
}
