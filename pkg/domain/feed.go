package domain

import "time"

// Feed represents a subscribed feed source
type Feed struct {
	ID            int64
	OwnerID       int64
	URL           string
	Title         string
	FaviconURL    string
	Category      string
	Tags          []string
	LastSyncedAt  *time.Time
	UnreadCount   int
	HasNewContent bool

	// conditional fetch state from the upstream server
	ETag         string
	LastModified string

	ErrorCount int
	LastError  string
	CreatedAt  time.Time
}

// ParsedFeed is the result of fetching and parsing a remote feed document
type ParsedFeed struct {
	Title       string
	Description string
	Link        string
	Items       []ParsedItem
}

// ParsedItem is one raw feed entry before normalization. Any field may be
// empty; feeds in the wild omit or mangle all of them.
type ParsedItem struct {
	Title        string
	Link         string
	Snippet      string   // plain-text description
	BodyHTML     string   // html content block
	Author       string   // author as provided, possibly empty
	Authors      []string // multi-author feeds
	Creator      string   // dc:creator fallback
	Published    *time.Time
	EnclosureURL string
}
