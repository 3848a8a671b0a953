package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/umputun/feedwise/pkg/domain"
	"github.com/umputun/feedwise/pkg/scoring"
)

// subscribeRequest is the body of POST /feeds
type subscribeRequest struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// subscribeHandler creates a feed subscription and runs the first ingestion
func (s *Server) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	feed := &domain.Feed{
		OwnerID:  owner,
		URL:      req.URL,
		Title:    req.Title,
		Category: req.Category,
		Tags:     req.Tags,
	}
	if err := s.feeds.CreateFeed(r.Context(), feed); err != nil {
		RenderError(w, r, err)
		return
	}

	// first ingestion; subscription stands even if the initial fetch fails
	result, err := s.ingester.Ingest(r.Context(), owner, feed.ID)
	if err != nil {
		lgr.Printf("[WARN] initial ingestion failed for feed %d (%s): %v", feed.ID, feed.URL, err)
		RenderJSON(w, r, http.StatusCreated, map[string]interface{}{"feed": feedResponse(feed), "new_articles": 0})
		return
	}

	RenderJSON(w, r, http.StatusCreated, map[string]interface{}{
		"feed":         feedResponse(result.Feed),
		"new_articles": result.NewArticles,
	})
}

// listFeedsHandler returns all subscriptions of the owner
func (s *Server) listFeedsHandler(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.feeds.GetFeeds(r.Context(), ownerID(r))
	if err != nil {
		RenderError(w, r, err)
		return
	}

	resp := make([]map[string]interface{}, len(feeds))
	for i := range feeds {
		resp[i] = feedResponse(&feeds[i])
	}
	RenderJSON(w, r, http.StatusOK, resp)
}

// deleteFeedHandler removes a subscription, cascading to its articles
func (s *Server) deleteFeedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid feed id"})
		return
	}
	if err := s.feeds.DeleteFeed(r.Context(), ownerID(r), id); err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// refreshFeedHandler triggers ingestion for one feed
func (s *Server) refreshFeedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid feed id"})
		return
	}

	result, err := s.ingester.Ingest(r.Context(), ownerID(r), id)
	if err != nil {
		RenderError(w, r, err)
		return
	}

	RenderJSON(w, r, http.StatusOK, map[string]interface{}{
		"feed":         feedResponse(result.Feed),
		"new_articles": result.NewArticles,
	})
}

// newContentHandler runs the cheap new-content probe
func (s *Server) newContentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid feed id"})
		return
	}

	hasNew := s.ingester.HasNewContent(r.Context(), ownerID(r), id)
	RenderJSON(w, r, http.StatusOK, map[string]bool{"has_new_content": hasNew})
}

// listArticlesHandler returns owner articles in display order: scores are
// recomputed from the current tag set on every call and near-equal scores
// fall back to publish date
func (s *Server) listArticlesHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)

	filter := domain.ArticleFilter{
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if feedID := queryInt(r, "feed", 0); feedID > 0 {
		filter.FeedID = int64(feedID)
	}
	filter.UnreadOnly = r.URL.Query().Get("unread") == "true"

	articles, err := s.articles.GetArticles(r.Context(), owner, filter)
	if err != nil {
		RenderError(w, r, err)
		return
	}

	tagNames, err := s.tags.TagNames(r.Context(), owner)
	if err != nil {
		RenderError(w, r, err)
		return
	}

	ranked := scoring.Rank(articles, tagNames, time.Now())
	resp := make([]map[string]interface{}, len(ranked))
	for i, entry := range ranked {
		resp[i] = articleResponse(&entry.Article, entry.Score)
	}
	RenderJSON(w, r, http.StatusOK, resp)
}

// savedArticlesHandler pages saved articles by save time
func (s *Server) savedArticlesHandler(w http.ResponseWriter, r *http.Request) {
	articles, err := s.articles.GetSavedArticles(r.Context(), ownerID(r),
		queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		RenderError(w, r, err)
		return
	}

	resp := make([]map[string]interface{}, len(articles))
	for i := range articles {
		resp[i] = articleResponse(&articles[i], articles[i].RelevanceScore)
	}
	RenderJSON(w, r, http.StatusOK, resp)
}

// reconcileSavedHandler repairs the saved index from the is_saved flags
func (s *Server) reconcileSavedHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.articles.ReconcileSavedIndex(r.Context(), ownerID(r)); err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"status": "reconciled"})
}

// toggleReadHandler flips the read flag and keeps the feed's unread counter
// in step
func (s *Server) toggleReadHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid article id"})
		return
	}
	owner := ownerID(r)

	article, err := s.articles.GetArticle(r.Context(), owner, id)
	if err != nil {
		RenderError(w, r, err)
		return
	}

	newRead := !article.IsRead
	if _, err := s.articles.SetArticleRead(r.Context(), owner, id, newRead); err != nil {
		RenderError(w, r, err)
		return
	}

	delta := 1
	if newRead {
		delta = -1
	}
	if err := s.feeds.AdjustUnreadCount(r.Context(), article.FeedID, delta); err != nil {
		lgr.Printf("[WARN] failed to adjust unread count for feed %d: %v", article.FeedID, err)
	}

	RenderJSON(w, r, http.StatusOK, map[string]bool{"read": newRead})
}

// toggleSavedHandler flips the saved flag, index kept in step atomically
func (s *Server) toggleSavedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid article id"})
		return
	}

	saved, err := s.articles.ToggleArticleSaved(r.Context(), ownerID(r), id)
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]bool{"saved": saved})
}

// summaryHandler serves the cached summary or generates one. The pipeline
// itself is cache-agnostic; this handler owns the cache check and persist.
func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid article id"})
		return
	}
	owner := ownerID(r)

	if text, ok, err := s.summaries.GetSummary(r.Context(), owner, id); err == nil && ok {
		RenderJSON(w, r, http.StatusOK, map[string]string{"summary": text})
		return
	} else if err != nil {
		RenderError(w, r, err)
		return
	}

	article, err := s.articles.GetArticle(r.Context(), owner, id)
	if err != nil {
		RenderError(w, r, err)
		return
	}

	body := s.summarySource(r, article)
	text, err := s.summarizer.Summarize(article.Title, body)
	if err != nil {
		RenderError(w, r, fmt.Errorf("summarize article %d: %w", id, err))
		return
	}

	if err := s.summaries.SaveSummary(r.Context(), owner, id, text); err != nil {
		lgr.Printf("[WARN] failed to cache summary for article %d: %v", id, err)
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"summary": text})
}

// summarySource picks the text to summarize: the stored description, or the
// extracted full article text when the description is too thin and
// extraction is enabled
func (s *Server) summarySource(r *http.Request, article *domain.Article) string {
	body := article.Description

	cfg := s.config.GetSummaryConfig()
	if !cfg.ExtractFullText || s.extractor == nil || len(body) >= cfg.MinSourceLength || article.Link == "" {
		return body
	}

	extracted, err := s.extractor.Extract(r.Context(), article.Link)
	if err != nil {
		lgr.Printf("[WARN] full text extraction failed for article %d (%s): %v", article.ID, article.Link, err)
		return body
	}
	if len(extracted) > len(body) {
		return extracted
	}
	return body
}

// tagRequest is the body of tag create/rename calls
type tagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// listTagsHandler returns the owner's tags
func (s *Server) listTagsHandler(w http.ResponseWriter, r *http.Request) {
	tags, err := s.tags.GetTags(r.Context(), ownerID(r))
	if err != nil {
		RenderError(w, r, err)
		return
	}

	resp := make([]map[string]interface{}, len(tags))
	for i, t := range tags {
		resp[i] = map[string]interface{}{"id": t.ID, "name": t.Name, "color": t.Color}
	}
	RenderJSON(w, r, http.StatusOK, resp)
}

// createTagHandler creates a tag
func (s *Server) createTagHandler(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	tag := &domain.Tag{OwnerID: ownerID(r), Name: req.Name, Color: req.Color}
	if err := s.tags.CreateTag(r.Context(), tag); err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusCreated, map[string]interface{}{"id": tag.ID, "name": tag.Name, "color": tag.Color})
}

// renameTagHandler renames a tag, rejecting collisions
func (s *Server) renameTagHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid tag id"})
		return
	}

	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	if err := s.tags.RenameTag(r.Context(), ownerID(r), id, req.Name); err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"status": "renamed"})
}

// deleteTagHandler removes a tag
func (s *Server) deleteTagHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid tag id"})
		return
	}
	if err := s.tags.DeleteTag(r.Context(), ownerID(r), id); err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// tagSweepHandler applies the owner's tags retroactively to all articles
func (s *Server) tagSweepHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)

	tagNames, err := s.tags.TagNames(r.Context(), owner)
	if err != nil {
		RenderError(w, r, err)
		return
	}

	updated, err := s.ingester.RetagSweep(r.Context(), owner, tagNames)
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]int{"updated": updated})
}

// queryInt parses an integer query parameter with a default
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// feedResponse shapes a feed for JSON output
func feedResponse(f *domain.Feed) map[string]interface{} {
	resp := map[string]interface{}{
		"id":              f.ID,
		"url":             f.URL,
		"title":           f.Title,
		"favicon_url":     f.FaviconURL,
		"category":        f.Category,
		"tags":            f.Tags,
		"unread_count":    f.UnreadCount,
		"has_new_content": f.HasNewContent,
	}
	if f.LastSyncedAt != nil {
		resp["last_synced_at"] = f.LastSyncedAt.UTC()
	}
	return resp
}

// articleResponse shapes an article for JSON output
func articleResponse(a *domain.Article, score float64) map[string]interface{} {
	return map[string]interface{}{
		"id":              a.ID,
		"feed_id":         a.FeedID,
		"title":           a.Title,
		"description":     a.Description,
		"link":            a.Link,
		"author":          a.Author,
		"published":       a.Published.UTC(),
		"tags":            a.Tags,
		"image_url":       a.ImageURL,
		"is_read":         a.IsRead,
		"is_saved":        a.IsSaved,
		"relevance_score": score,
	}
}
