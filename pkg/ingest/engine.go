// Package ingest orchestrates the fetch-normalize-dedupe-persist cycle for
// subscribed feeds and the cheap new-content probe. Persistence and parsing
// are injected over interfaces; the engine itself holds no article state.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/feedwise/pkg/domain"
	"github.com/umputun/feedwise/pkg/feed"
)

// probeDepth is how many head items the new-content probe inspects
const probeDepth = 5

// FeedStore provides feed persistence for the engine
type FeedStore interface {
	GetFeed(ctx context.Context, ownerID, id int64) (*domain.Feed, error)
	GetAllFeeds(ctx context.Context) ([]domain.Feed, error)
	UpdateFeedSynced(ctx context.Context, feedID int64, newArticles int, etag, lastModified string) error
	UpdateFeedError(ctx context.Context, feedID int64, errMsg string) error
	SetHasNewContent(ctx context.Context, feedID int64, hasNew bool) error
}

// ArticleStore provides article persistence for the engine
type ArticleStore interface {
	ArticleExists(ctx context.Context, ownerID int64, link string) (bool, error)
	CreateArticle(ctx context.Context, article *domain.Article) (created bool, err error)
	GetArticles(ctx context.Context, ownerID int64, filter domain.ArticleFilter) ([]domain.Article, error)
	UpdateArticleTags(ctx context.Context, ownerID, id int64, tags []string) error
}

// Parser fetches and parses remote feed documents
type Parser interface {
	Parse(ctx context.Context, url string) (*feed.Result, error)
	ParseConditional(ctx context.Context, url, etag, lastModified string) (*feed.Result, error)
}

// Engine runs ingestion and probing over injected collaborators
type Engine struct {
	feeds      FeedStore
	articles   ArticleStore
	parser     Parser
	normalizer *feed.Normalizer
	maxWorkers int

	now func() time.Time

	// per-feed locks serialize concurrent ingests of the same feed; the
	// (owner, link) unique constraint stays the final dedup authority
	inFlight sync.Map
}

// Result is the outcome of one ingestion call
type Result struct {
	Feed        *domain.Feed
	NewArticles int
}

// NewEngine creates an ingestion engine
func NewEngine(feeds FeedStore, articles ArticleStore, parser Parser, maxWorkers int) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = 5
	}
	return &Engine{
		feeds:      feeds,
		articles:   articles,
		parser:     parser,
		normalizer: feed.NewNormalizer(),
		maxWorkers: maxWorkers,
		now:        time.Now,
	}
}

// Ingest fetches one feed, persists the items not seen before and updates
// the feed's sync state. A parse or fetch failure returns the typed error
// without touching sync state or articles. Immediate re-runs with no
// upstream change create nothing and leave the unread count alone.
func (e *Engine) Ingest(ctx context.Context, ownerID, feedID int64) (*Result, error) {
	unlock := e.lockFeed(feedID)
	defer unlock()

	f, err := e.feeds.GetFeed(ctx, ownerID, feedID)
	if err != nil {
		return nil, fmt.Errorf("load feed %d: %w", feedID, err)
	}

	parsed, err := e.parser.Parse(ctx, f.URL)
	if err != nil {
		// error bookkeeping only, sync state stays untouched
		if updErr := e.feeds.UpdateFeedError(ctx, f.ID, err.Error()); updErr != nil {
			lgr.Printf("[WARN] failed to record error for feed %d: %v", f.ID, updErr)
		}
		return nil, fmt.Errorf("ingest feed %d (%s): %w", f.ID, f.URL, err)
	}

	newCount := 0
	for _, item := range parsed.Feed.Items {
		article := e.normalizer.Normalize(item, f, e.now())
		if article.Link == "" {
			lgr.Printf("[DEBUG] skipping item without link in feed %d: %s", f.ID, article.Title)
			continue
		}

		// existence check is an optimization; the unique index catches races
		exists, err := e.articles.ArticleExists(ctx, ownerID, article.Link)
		if err != nil {
			lgr.Printf("[WARN] existence check failed for %s in feed %d: %v", article.Link, f.ID, err)
			continue
		}
		if exists {
			continue // no update-on-match, upstream edits do not propagate
		}

		created, err := e.articles.CreateArticle(ctx, &article)
		if err != nil {
			lgr.Printf("[WARN] failed to create article %s in feed %d: %v", article.Link, f.ID, err)
			continue
		}
		if created {
			newCount++
		}
	}

	if err := e.feeds.UpdateFeedSynced(ctx, f.ID, newCount, parsed.ETag, parsed.LastModified); err != nil {
		return nil, fmt.Errorf("update sync state for feed %d: %w", f.ID, err)
	}

	updated, err := e.feeds.GetFeed(ctx, ownerID, feedID)
	if err != nil {
		return nil, fmt.Errorf("reload feed %d: %w", feedID, err)
	}

	if newCount > 0 {
		lgr.Printf("[INFO] ingested %d new articles from feed %d (%s)", newCount, f.ID, f.URL)
	}
	return &Result{Feed: updated, NewArticles: newCount}, nil
}

// HasNewContent is a cheap probe that avoids full ingestion: a conditional
// fetch confirmed unmodified means no; otherwise the head items are checked
// for unseen links or a publish date past the last sync. Probe failures
// report true - a wasted manual refresh beats silently starving the user.
func (e *Engine) HasNewContent(ctx context.Context, ownerID, feedID int64) bool {
	f, err := e.feeds.GetFeed(ctx, ownerID, feedID)
	if err != nil {
		lgr.Printf("[WARN] probe failed to load feed %d: %v", feedID, err)
		return true
	}

	hasNew := e.probe(ctx, f)
	if err := e.feeds.SetHasNewContent(ctx, f.ID, hasNew); err != nil {
		lgr.Printf("[WARN] failed to store probe result for feed %d: %v", f.ID, err)
	}
	return hasNew
}

func (e *Engine) probe(ctx context.Context, f *domain.Feed) bool {
	res, err := e.parser.ParseConditional(ctx, f.URL, f.ETag, f.LastModified)
	if err != nil {
		lgr.Printf("[WARN] probe fetch failed for feed %d (%s), reporting new content: %v", f.ID, f.URL, err)
		return true
	}
	if res.NotModified {
		return false
	}

	items := res.Feed.Items
	if len(items) > probeDepth {
		items = items[:probeDepth]
	}

	for _, item := range items {
		if f.LastSyncedAt != nil && item.Published != nil && item.Published.After(*f.LastSyncedAt) {
			return true
		}
		if item.Link == "" {
			continue
		}
		exists, err := e.articles.ArticleExists(ctx, f.OwnerID, item.Link)
		if err != nil {
			lgr.Printf("[WARN] probe existence check failed for feed %d: %v", f.ID, err)
			return true
		}
		if !exists {
			return true
		}
	}

	return false
}

// RefreshAll ingests every subscribed feed with bounded parallelism. One
// slow or broken feed never blocks the others; per-feed errors are logged
// and skipped.
func (e *Engine) RefreshAll(ctx context.Context) {
	feeds, err := e.feeds.GetAllFeeds(ctx)
	if err != nil {
		lgr.Printf("[ERROR] failed to list feeds for refresh: %v", err)
		return
	}

	lgr.Printf("[INFO] refreshing %d feeds", len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)

	for _, f := range feeds {
		g.Go(func() error {
			if _, err := e.Ingest(ctx, f.OwnerID, f.ID); err != nil {
				lgr.Printf("[WARN] refresh failed for feed %d (%s): %v", f.ID, f.URL, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		lgr.Printf("[ERROR] feed refresh error: %v", err)
	}

	lgr.Printf("[INFO] feed refresh completed")
}

// RetagSweep applies the owner's tag names retroactively: any article whose
// title or description mentions a tag gets that tag appended. Idempotent,
// runs outside the ingestion path.
func (e *Engine) RetagSweep(ctx context.Context, ownerID int64, tagNames []string) (updated int, err error) {
	articles, err := e.articles.GetArticles(ctx, ownerID, domain.ArticleFilter{})
	if err != nil {
		return 0, fmt.Errorf("load articles for sweep: %w", err)
	}

	for _, article := range articles {
		text := strings.ToLower(article.Title + " " + article.Description)

		have := make(map[string]struct{}, len(article.Tags))
		for _, t := range article.Tags {
			have[strings.ToLower(t)] = struct{}{}
		}

		added := false
		tags := article.Tags
		for _, name := range tagNames {
			lower := strings.ToLower(name)
			if _, ok := have[lower]; ok {
				continue
			}
			if strings.Contains(text, lower) {
				tags = append(tags, lower)
				have[lower] = struct{}{}
				added = true
			}
		}

		if !added {
			continue
		}
		if err := e.articles.UpdateArticleTags(ctx, ownerID, article.ID, tags); err != nil {
			lgr.Printf("[WARN] sweep failed to update tags for article %d: %v", article.ID, err)
			continue
		}
		updated++
	}

	return updated, nil
}

// lockFeed serializes ingestion per feed id
func (e *Engine) lockFeed(feedID int64) func() {
	v, _ := e.inFlight.LoadOrStore(feedID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
