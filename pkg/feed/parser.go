package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/umputun/feedwise/pkg/domain"
)

// Parser fetches and parses RSS/Atom feeds
type Parser struct {
	client    *http.Client
	userAgent string
}

// Result is the outcome of one fetch+parse cycle. NotModified is set when
// the server confirmed the feed unchanged via conditional request; Feed is
// nil in that case.
type Result struct {
	Feed         *domain.ParsedFeed
	NotModified  bool
	ETag         string
	LastModified string
}

// NewParser creates a new feed parser
func NewParser(timeout time.Duration, userAgent string) *Parser {
	return &Parser{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: userAgent,
	}
}

// Parse fetches and parses a feed from the given URL
func (p *Parser) Parse(ctx context.Context, url string) (*Result, error) {
	return p.ParseConditional(ctx, url, "", "")
}

// ParseConditional fetches a feed with If-None-Match/If-Modified-Since
// validators. A 304 response yields Result{NotModified: true} without
// touching the body. Fetch failures map to ErrFeedUnreachable, parse
// failures to ErrFeedUnparsable.
func (p *Parser) ParseConditional(ctx context.Context, url, etag, lastModified string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", url, domain.ErrFeedUnreachable)
	}

	req.Header.Set("User-Agent", p.userAgent)
	addBrowserHeaders(req)

	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w: %v", url, domain.ErrFeedUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{NotModified: true, ETag: etag, LastModified: lastModified}, nil
	}

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch feed %s: %w: status %d", url, domain.ErrFeedUnreachable, resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w: %v", url, domain.ErrFeedUnparsable, err)
	}

	result := &Result{
		Feed:         convertFeed(parsed),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	return result, nil
}

// convertFeed maps gofeed types to our raw item shape. No normalization
// happens here; missing fields stay empty for the normalizer to handle.
func convertFeed(f *gofeed.Feed) *domain.ParsedFeed {
	result := &domain.ParsedFeed{
		Title:       f.Title,
		Description: f.Description,
		Link:        f.Link,
		Items:       make([]domain.ParsedItem, 0, len(f.Items)),
	}

	for _, item := range f.Items {
		parsed := domain.ParsedItem{
			Title:    item.Title,
			Link:     item.Link,
			Snippet:  item.Description,
			BodyHTML: item.Content,
		}

		if item.Author != nil {
			parsed.Author = item.Author.Name
		}
		for _, a := range item.Authors {
			if a != nil && a.Name != "" {
				parsed.Authors = append(parsed.Authors, a.Name)
			}
		}
		if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
			parsed.Creator = item.DublinCoreExt.Creator[0]
		}

		if item.PublishedParsed != nil {
			parsed.Published = item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			parsed.Published = item.UpdatedParsed
		}

		if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
			parsed.EnclosureURL = item.Enclosures[0].URL
		}

		result.Items = append(result.Items, parsed)
	}

	return result
}
