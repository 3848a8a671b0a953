package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/feedwise/pkg/config"
	"github.com/umputun/feedwise/pkg/domain"
	"github.com/umputun/feedwise/pkg/ingest"
)

// defaultOwner is used when the auth layer supplies no owner header
const defaultOwner = int64(1)

// ownerHeader carries the owner identity resolved by the auth layer in
// front of this service
const ownerHeader = "X-FeedWise-Owner"

// Server represents HTTP server instance
type Server struct {
	config     ConfigProvider
	feeds      FeedStore
	articles   ArticleStore
	tags       TagStore
	summaries  SummaryStore
	ingester   Ingester
	summarizer Summarizer
	extractor  Extractor
	version    string
	debug      bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// FeedStore provides feed persistence for handlers
type FeedStore interface {
	CreateFeed(ctx context.Context, feed *domain.Feed) error
	GetFeeds(ctx context.Context, ownerID int64) ([]domain.Feed, error)
	DeleteFeed(ctx context.Context, ownerID, id int64) error
	AdjustUnreadCount(ctx context.Context, feedID int64, delta int) error
}

// ArticleStore provides article persistence for handlers
type ArticleStore interface {
	GetArticle(ctx context.Context, ownerID, id int64) (*domain.Article, error)
	GetArticles(ctx context.Context, ownerID int64, filter domain.ArticleFilter) ([]domain.Article, error)
	GetSavedArticles(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Article, error)
	SetArticleRead(ctx context.Context, ownerID, id int64, read bool) (wasRead bool, err error)
	ToggleArticleSaved(ctx context.Context, ownerID, id int64) (saved bool, err error)
	ReconcileSavedIndex(ctx context.Context, ownerID int64) error
}

// TagStore provides tag persistence for handlers
type TagStore interface {
	CreateTag(ctx context.Context, tag *domain.Tag) error
	GetTags(ctx context.Context, ownerID int64) ([]domain.Tag, error)
	TagNames(ctx context.Context, ownerID int64) ([]string, error)
	RenameTag(ctx context.Context, ownerID, id int64, newName string) error
	DeleteTag(ctx context.Context, ownerID, id int64) error
}

// SummaryStore caches generated summaries
type SummaryStore interface {
	GetSummary(ctx context.Context, ownerID, articleID int64) (text string, ok bool, err error)
	SaveSummary(ctx context.Context, ownerID, articleID int64, text string) error
}

// Ingester runs feed ingestion and probing
type Ingester interface {
	Ingest(ctx context.Context, ownerID, feedID int64) (*ingest.Result, error)
	HasNewContent(ctx context.Context, ownerID, feedID int64) bool
	RetagSweep(ctx context.Context, ownerID int64, tagNames []string) (updated int, err error)
}

// Summarizer produces article summaries
type Summarizer interface {
	Summarize(title, body string) (string, error)
}

// Extractor fetches full article text, optional
type Extractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
	GetSummaryConfig() config.SummaryConfig
}

// Deps bundles server dependencies
type Deps struct {
	Config     ConfigProvider
	Feeds      FeedStore
	Articles   ArticleStore
	Tags       TagStore
	Summaries  SummaryStore
	Ingester   Ingester
	Summarizer Summarizer
	Extractor  Extractor // nil disables full-text extraction
	Version    string
	Debug      bool
}

// New initializes a new server instance
func New(deps Deps) *Server {
	s := &Server{
		config:     deps.Config,
		feeds:      deps.Feeds,
		articles:   deps.Articles,
		tags:       deps.Tags,
		summaries:  deps.Summaries,
		ingester:   deps.Ingester,
		summarizer: deps.Summarizer,
		extractor:  deps.Extractor,
		version:    deps.Version,
		debug:      deps.Debug,
		router:     routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	lgr.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("feedwise", "umputun", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)

		r.HandleFunc("POST /feeds", s.subscribeHandler)
		r.HandleFunc("GET /feeds", s.listFeedsHandler)
		r.HandleFunc("DELETE /feeds/{id}", s.deleteFeedHandler)
		r.HandleFunc("POST /feeds/{id}/refresh", s.refreshFeedHandler)
		r.HandleFunc("GET /feeds/{id}/new-content", s.newContentHandler)

		r.HandleFunc("GET /articles", s.listArticlesHandler)
		r.HandleFunc("GET /articles/saved", s.savedArticlesHandler)
		r.HandleFunc("POST /articles/reconcile-saved", s.reconcileSavedHandler)
		r.HandleFunc("POST /articles/{id}/read", s.toggleReadHandler)
		r.HandleFunc("POST /articles/{id}/saved", s.toggleSavedHandler)
		r.HandleFunc("GET /articles/{id}/summary", s.summaryHandler)

		r.HandleFunc("GET /tags", s.listTagsHandler)
		r.HandleFunc("POST /tags", s.createTagHandler)
		r.HandleFunc("POST /tags/sweep", s.tagSweepHandler)
		r.HandleFunc("PUT /tags/{id}", s.renameTagHandler)
		r.HandleFunc("DELETE /tags/{id}", s.deleteTagHandler)
	})
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
	}
	RenderJSON(w, r, http.StatusOK, status)
}

// ownerID resolves the current owner from the request, set by the auth
// layer in front of this service
func ownerID(r *http.Request) int64 {
	if v := r.Header.Get(ownerHeader); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return defaultOwner
}

// pathID parses the {id} path segment
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// RenderJSON sends JSON response
func RenderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			lgr.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// RenderError sends a generic error response, logging the details
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	lgr.Printf("[WARN] %s %s failed with %d: %v", r.Method, r.URL.Path, code, err)
	RenderJSON(w, r, code, map[string]string{"error": http.StatusText(code)})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrFeedNotFound), errors.Is(err, domain.ErrArticleNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateFeed), errors.Is(err, domain.ErrTagConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFeedUnparsable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrFeedUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrEmptyContent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
