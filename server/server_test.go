package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/feedwise/pkg/config"
	"github.com/umputun/feedwise/pkg/domain"
	"github.com/umputun/feedwise/pkg/ingest"
)

type stubConfig struct {
	summaryCfg config.SummaryConfig
}

func (c *stubConfig) GetServerConfig() (string, time.Duration) { return "127.0.0.1:0", time.Minute }
func (c *stubConfig) GetSummaryConfig() config.SummaryConfig   { return c.summaryCfg }

type stubFeeds struct {
	feeds     map[int64]*domain.Feed
	nextID    int64
	createErr error
	deleted   []int64
	adjusted  map[int64]int
}

func newStubFeeds() *stubFeeds {
	return &stubFeeds{feeds: map[int64]*domain.Feed{}, adjusted: map[int64]int{}}
}

func (s *stubFeeds) CreateFeed(_ context.Context, feed *domain.Feed) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	feed.ID = s.nextID
	s.feeds[feed.ID] = feed
	return nil
}

func (s *stubFeeds) GetFeeds(_ context.Context, ownerID int64) ([]domain.Feed, error) {
	var res []domain.Feed
	for _, f := range s.feeds {
		if f.OwnerID == ownerID {
			res = append(res, *f)
		}
	}
	return res, nil
}

func (s *stubFeeds) DeleteFeed(_ context.Context, ownerID, id int64) error {
	f, ok := s.feeds[id]
	if !ok || f.OwnerID != ownerID {
		return fmt.Errorf("feed %d: %w", id, domain.ErrFeedNotFound)
	}
	delete(s.feeds, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubFeeds) AdjustUnreadCount(_ context.Context, feedID int64, delta int) error {
	s.adjusted[feedID] += delta
	return nil
}

type stubArticles struct {
	articles map[int64]*domain.Article
	saved    []domain.Article
	recons   int
}

func newStubArticles(articles ...*domain.Article) *stubArticles {
	s := &stubArticles{articles: map[int64]*domain.Article{}}
	for _, a := range articles {
		s.articles[a.ID] = a
	}
	return s
}

func (s *stubArticles) GetArticle(_ context.Context, ownerID, id int64) (*domain.Article, error) {
	a, ok := s.articles[id]
	if !ok || a.OwnerID != ownerID {
		return nil, fmt.Errorf("article %d: %w", id, domain.ErrArticleNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *stubArticles) GetArticles(_ context.Context, ownerID int64, _ domain.ArticleFilter) ([]domain.Article, error) {
	var res []domain.Article
	for _, a := range s.articles {
		if a.OwnerID == ownerID {
			res = append(res, *a)
		}
	}
	return res, nil
}

func (s *stubArticles) GetSavedArticles(_ context.Context, _ int64, _, _ int) ([]domain.Article, error) {
	return s.saved, nil
}

func (s *stubArticles) SetArticleRead(_ context.Context, ownerID, id int64, read bool) (bool, error) {
	a, ok := s.articles[id]
	if !ok || a.OwnerID != ownerID {
		return false, fmt.Errorf("article %d: %w", id, domain.ErrArticleNotFound)
	}
	was := a.IsRead
	a.IsRead = read
	return was, nil
}

func (s *stubArticles) ToggleArticleSaved(_ context.Context, ownerID, id int64) (bool, error) {
	a, ok := s.articles[id]
	if !ok || a.OwnerID != ownerID {
		return false, fmt.Errorf("article %d: %w", id, domain.ErrArticleNotFound)
	}
	a.IsSaved = !a.IsSaved
	return a.IsSaved, nil
}

func (s *stubArticles) ReconcileSavedIndex(context.Context, int64) error {
	s.recons++
	return nil
}

type stubTags struct {
	names  []string
	tags   []domain.Tag
	nextID int64
}

func (s *stubTags) CreateTag(_ context.Context, tag *domain.Tag) error {
	for _, n := range s.names {
		if n == tag.Name {
			return fmt.Errorf("tag %q: %w", tag.Name, domain.ErrTagConflict)
		}
	}
	s.nextID++
	tag.ID = s.nextID
	s.names = append(s.names, tag.Name)
	s.tags = append(s.tags, *tag)
	return nil
}

func (s *stubTags) GetTags(context.Context, int64) ([]domain.Tag, error)   { return s.tags, nil }
func (s *stubTags) TagNames(context.Context, int64) ([]string, error)     { return s.names, nil }
func (s *stubTags) RenameTag(context.Context, int64, int64, string) error { return nil }
func (s *stubTags) DeleteTag(context.Context, int64, int64) error         { return nil }

type stubIngester struct {
	result    *ingest.Result
	err       error
	hasNew    bool
	swept     int
	lastOwner int64
}

func (s *stubIngester) Ingest(_ context.Context, ownerID, _ int64) (*ingest.Result, error) {
	s.lastOwner = ownerID
	return s.result, s.err
}

func (s *stubIngester) HasNewContent(context.Context, int64, int64) bool { return s.hasNew }

func (s *stubIngester) RetagSweep(_ context.Context, _ int64, _ []string) (int, error) {
	return s.swept, nil
}

type stubSummarizer struct {
	text string
	err  error
}

func (s *stubSummarizer) Summarize(string, string) (string, error) { return s.text, s.err }

type stubSummaries struct {
	cache map[int64]string
	saves int
}

func newStubSummaries() *stubSummaries { return &stubSummaries{cache: map[int64]string{}} }

func (s *stubSummaries) GetSummary(_ context.Context, _, articleID int64) (string, bool, error) {
	text, ok := s.cache[articleID]
	return text, ok, nil
}

func (s *stubSummaries) SaveSummary(_ context.Context, _, articleID int64, text string) error {
	s.saves++
	if _, ok := s.cache[articleID]; !ok {
		s.cache[articleID] = text
	}
	return nil
}

type stubExtractor struct {
	text string
	err  error
}

func (s *stubExtractor) Extract(context.Context, string) (string, error) { return s.text, s.err }

type testEnv struct {
	srv       *httptest.Server
	feeds     *stubFeeds
	articles  *stubArticles
	tags      *stubTags
	ingester  *stubIngester
	summaries *stubSummaries
}

func setupTestServer(t *testing.T, mod func(*Deps)) *testEnv {
	t.Helper()
	env := &testEnv{
		feeds:     newStubFeeds(),
		articles:  newStubArticles(),
		tags:      &stubTags{},
		ingester:  &stubIngester{},
		summaries: newStubSummaries(),
	}
	deps := Deps{
		Config:     &stubConfig{},
		Feeds:      env.feeds,
		Articles:   env.articles,
		Tags:       env.tags,
		Summaries:  env.summaries,
		Ingester:   env.ingester,
		Summarizer: &stubSummarizer{text: "generated summary"},
		Version:    "test",
	}
	if mod != nil {
		mod(&deps)
	}
	s := New(deps)
	env.srv = httptest.NewServer(s.router)
	t.Cleanup(env.srv.Close)
	return env
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestServer_Status(t *testing.T) {
	env := setupTestServer(t, nil)

	resp, body := doJSON(t, http.MethodGet, env.srv.URL+"/api/v1/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestServer_Subscribe(t *testing.T) {
	t.Run("created with initial ingestion", func(t *testing.T) {
		env := setupTestServer(t, nil)
		env.ingester.result = &ingest.Result{
			Feed:        &domain.Feed{ID: 1, URL: "https://example.com/feed", Title: "F", UnreadCount: 3},
			NewArticles: 3,
		}

		resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/feeds",
			map[string]interface{}{"url": "https://example.com/feed", "title": "F", "tags": []string{"golang"}})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.EqualValues(t, 3, body["new_articles"])
		assert.Equal(t, int64(1), env.ingester.lastOwner, "defaults to owner 1")
	})

	t.Run("subscription stands when initial fetch fails", func(t *testing.T) {
		env := setupTestServer(t, nil)
		env.ingester.err = fmt.Errorf("fetch: %w", domain.ErrFeedUnreachable)

		resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/feeds",
			map[string]interface{}{"url": "https://example.com/feed"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.EqualValues(t, 0, body["new_articles"])
		assert.Len(t, env.feeds.feeds, 1)
	})

	t.Run("missing url rejected", func(t *testing.T) {
		env := setupTestServer(t, nil)
		resp, _ := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/feeds", map[string]string{"title": "no url"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("duplicate maps to conflict", func(t *testing.T) {
		env := setupTestServer(t, nil)
		env.feeds.createErr = fmt.Errorf("feed x: %w", domain.ErrDuplicateFeed)
		resp, _ := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/feeds",
			map[string]string{"url": "https://example.com/feed"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestServer_DeleteFeed(t *testing.T) {
	env := setupTestServer(t, nil)
	env.feeds.feeds[5] = &domain.Feed{ID: 5, OwnerID: 1, URL: "https://example.com/feed"}

	resp, _ := doJSON(t, http.MethodDelete, env.srv.URL+"/api/v1/feeds/5", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, env.srv.URL+"/api/v1/feeds/5", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, env.srv.URL+"/api/v1/feeds/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RefreshErrors(t *testing.T) {
	t.Run("unreachable is bad gateway", func(t *testing.T) {
		env := setupTestServer(t, nil)
		env.ingester.err = fmt.Errorf("fetch: %w", domain.ErrFeedUnreachable)
		resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/feeds/1/refresh", nil)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, http.StatusText(http.StatusBadGateway), body["error"], "no error details leak")
	})

	t.Run("unparsable is unprocessable", func(t *testing.T) {
		env := setupTestServer(t, nil)
		env.ingester.err = fmt.Errorf("parse: %w", domain.ErrFeedUnparsable)
		resp, _ := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/feeds/1/refresh", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func TestServer_NewContent(t *testing.T) {
	env := setupTestServer(t, nil)
	env.ingester.hasNew = true

	resp, body := doJSON(t, http.MethodGet, env.srv.URL+"/api/v1/feeds/1/new-content", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["has_new_content"])
}

func TestServer_ListArticles(t *testing.T) {
	env := setupTestServer(t, nil)
	now := time.Now()
	env.articles.articles[1] = &domain.Article{
		ID: 1, OwnerID: 1, Title: "Old Untagged", Published: now.Add(-30 * 24 * time.Hour),
	}
	env.articles.articles[2] = &domain.Article{
		ID: 2, OwnerID: 1, Title: "Fresh Tagged", Tags: []string{"golang", "databases"},
		Published: now.Add(-time.Hour),
	}
	env.tags.names = []string{"golang", "databases"}

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/v1/articles", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)

	assert.EqualValues(t, 2, list[0]["id"], "tagged fresh article ranks first")
	score, ok := list[0]["relevance_score"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 0.8, score, 0.0001)
}

func TestServer_OwnerHeader(t *testing.T) {
	env := setupTestServer(t, nil)
	env.feeds.feeds[1] = &domain.Feed{ID: 1, OwnerID: 1, URL: "https://example.com/a"}
	env.feeds.feeds[2] = &domain.Feed{ID: 2, OwnerID: 7, URL: "https://example.com/b"}

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/v1/feeds", nil)
	require.NoError(t, err)
	req.Header.Set("X-FeedWise-Owner", "7")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "https://example.com/b", list[0]["url"])
}

func TestServer_ToggleRead(t *testing.T) {
	env := setupTestServer(t, nil)
	env.articles.articles[3] = &domain.Article{ID: 3, OwnerID: 1, FeedID: 9, Published: time.Now()}

	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/articles/3/read", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["read"])
	assert.Equal(t, -1, env.feeds.adjusted[9], "unread counter decremented")

	resp, body = doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/articles/3/read", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["read"])
	assert.Equal(t, 0, env.feeds.adjusted[9], "toggle back restores the counter")

	resp, _ = doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/articles/99/read", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ToggleSaved(t *testing.T) {
	env := setupTestServer(t, nil)
	env.articles.articles[3] = &domain.Article{ID: 3, OwnerID: 1, Published: time.Now()}

	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/articles/3/saved", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["saved"])

	resp, body = doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/articles/3/saved", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["saved"])
}

func TestServer_ReconcileSaved(t *testing.T) {
	env := setupTestServer(t, nil)
	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/articles/reconcile-saved", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reconciled", body["status"])
	assert.Equal(t, 1, env.articles.recons)
}

func TestServer_Summary(t *testing.T) {
	t.Run("generates and caches", func(t *testing.T) {
		env := setupTestServer(t, nil)
		env.articles.articles[4] = &domain.Article{
			ID: 4, OwnerID: 1, Title: "T", Description: "body text", Published: time.Now(),
		}

		resp, body := doJSON(t, http.MethodGet, env.srv.URL+"/api/v1/articles/4/summary", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "generated summary", body["summary"])
		assert.Equal(t, 1, env.summaries.saves)

		// second call hits the cache, no second save
		resp, body = doJSON(t, http.MethodGet, env.srv.URL+"/api/v1/articles/4/summary", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "generated summary", body["summary"])
		assert.Equal(t, 1, env.summaries.saves)
	})

	t.Run("unknown article", func(t *testing.T) {
		env := setupTestServer(t, nil)
		resp, _ := doJSON(t, http.MethodGet, env.srv.URL+"/api/v1/articles/99/summary", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("empty content maps to bad request", func(t *testing.T) {
		env := setupTestServer(t, func(d *Deps) {
			d.Summarizer = &stubSummarizer{err: domain.ErrEmptyContent}
		})
		env.articles.articles[4] = &domain.Article{ID: 4, OwnerID: 1, Published: time.Now()}

		resp, _ := doJSON(t, http.MethodGet, env.srv.URL+"/api/v1/articles/4/summary", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("thin description triggers extraction", func(t *testing.T) {
		extractor := &stubExtractor{text: "full extracted article text, much longer than the description"}
		var gotBody string
		env := setupTestServer(t, func(d *Deps) {
			d.Config = &stubConfig{summaryCfg: config.SummaryConfig{ExtractFullText: true, MinSourceLength: 100}}
			d.Extractor = extractor
			d.Summarizer = summarizerFunc(func(_, body string) (string, error) {
				gotBody = body
				return "ok", nil
			})
		})
		env.articles.articles[4] = &domain.Article{
			ID: 4, OwnerID: 1, Title: "T", Description: "thin", Link: "https://example.com/a", Published: time.Now(),
		}

		resp, _ := doJSON(t, http.MethodGet, env.srv.URL+"/api/v1/articles/4/summary", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, extractor.text, gotBody)
	})

	t.Run("extraction failure falls back to description", func(t *testing.T) {
		var gotBody string
		env := setupTestServer(t, func(d *Deps) {
			d.Config = &stubConfig{summaryCfg: config.SummaryConfig{ExtractFullText: true, MinSourceLength: 100}}
			d.Extractor = &stubExtractor{err: fmt.Errorf("boom")}
			d.Summarizer = summarizerFunc(func(_, body string) (string, error) {
				gotBody = body
				return "ok", nil
			})
		})
		env.articles.articles[4] = &domain.Article{
			ID: 4, OwnerID: 1, Title: "T", Description: "thin", Link: "https://example.com/a", Published: time.Now(),
		}

		resp, _ := doJSON(t, http.MethodGet, env.srv.URL+"/api/v1/articles/4/summary", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "thin", gotBody)
	})
}

// summarizerFunc adapts a function to the Summarizer interface
type summarizerFunc func(title, body string) (string, error)

func (f summarizerFunc) Summarize(title, body string) (string, error) { return f(title, body) }

func TestServer_Tags(t *testing.T) {
	env := setupTestServer(t, nil)

	resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/tags", map[string]string{"name": "golang", "color": "#00add8"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "golang", body["name"])

	resp, _ = doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/tags", map[string]string{"name": "golang"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/tags", map[string]string{"color": "#fff"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	t.Run("sweep", func(t *testing.T) {
		env.ingester.swept = 3
		resp, body := doJSON(t, http.MethodPost, env.srv.URL+"/api/v1/tags/sweep", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 3, body["updated"])
	})
}
