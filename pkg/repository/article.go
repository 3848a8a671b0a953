package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/feedwise/pkg/domain"
)

// ArticleRepository handles article-related database operations
type ArticleRepository struct {
	db *sqlx.DB
}

// articleSQL represents an article for SQL operations
type articleSQL struct {
	ID          int64     `db:"id"`
	OwnerID     int64     `db:"owner_id"`
	FeedID      int64     `db:"feed_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Link        string    `db:"link"`
	Author      string    `db:"author"`
	Published   time.Time `db:"published"`
	Tags        tagsSQL   `db:"tags"`
	ImageURL    string    `db:"image_url"`
	IsRead      bool      `db:"is_read"`
	IsSaved     bool      `db:"is_saved"`
	CreatedAt   time.Time `db:"created_at"`
}

// NewArticleRepository creates a new article repository
func NewArticleRepository(database *sqlx.DB) *ArticleRepository {
	return &ArticleRepository{db: database}
}

// CreateArticle inserts a new article. Returns created=false without error
// when the (owner, link) dedup constraint rejects the row; the constraint is
// the final authority, racing ingests lose silently.
func (r *ArticleRepository) CreateArticle(ctx context.Context, article *domain.Article) (created bool, err error) {
	sqlArticle := &articleSQL{
		OwnerID:     article.OwnerID,
		FeedID:      article.FeedID,
		Title:       article.Title,
		Description: article.Description,
		Link:        article.Link,
		Author:      article.Author,
		Published:   article.Published,
		Tags:        tagsSQL(article.Tags),
		ImageURL:    article.ImageURL,
		IsRead:      article.IsRead,
		IsSaved:     article.IsSaved,
	}

	query := `
		INSERT INTO articles (owner_id, feed_id, title, description, link, author, published, tags, image_url, is_read, is_saved)
		VALUES (:owner_id, :feed_id, :title, :description, :link, :author, :published, :tags, :image_url, :is_read, :is_saved)
	`

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	var result sql.Result
	err = retrier.Do(ctx, func() error {
		var execErr error
		result, execErr = r.db.NamedExecContext(ctx, query, sqlArticle)
		if execErr != nil {
			if isLockError(execErr) {
				return execErr // retry
			}
			return &criticalError{err: execErr}
		}
		return nil
	})
	if err != nil {
		var critical *criticalError
		if errors.As(err, &critical) && isUniqueViolation(critical.err) {
			return false, nil
		}
		return false, fmt.Errorf("create article: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("get insert id: %w", err)
	}

	article.ID = id
	return true, nil
}

// ArticleExists reports whether the owner already has an article for the link
func (r *ArticleRepository) ArticleExists(ctx context.Context, ownerID int64, link string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM articles WHERE owner_id = ? AND link = ?", ownerID, link)
	if err != nil {
		return false, fmt.Errorf("check article existence: %w", err)
	}
	return count > 0, nil
}

// GetArticle retrieves an article by ID, scoped to the owner
func (r *ArticleRepository) GetArticle(ctx context.Context, ownerID, id int64) (*domain.Article, error) {
	var sqlArticle articleSQL
	err := r.db.GetContext(ctx, &sqlArticle, "SELECT * FROM articles WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("article %d: %w", id, domain.ErrArticleNotFound)
		}
		return nil, fmt.Errorf("get article: %w", err)
	}
	return r.toDomainArticle(&sqlArticle), nil
}

// GetArticles retrieves owner articles with optional filters, newest first
func (r *ArticleRepository) GetArticles(ctx context.Context, ownerID int64, filter domain.ArticleFilter) ([]domain.Article, error) {
	query := "SELECT * FROM articles WHERE owner_id = ?"
	args := []interface{}{ownerID}

	if filter.FeedID != 0 {
		query += " AND feed_id = ?"
		args = append(args, filter.FeedID)
	}
	if filter.UnreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY published DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	var sqlArticles []articleSQL
	if err := r.db.SelectContext(ctx, &sqlArticles, query, args...); err != nil {
		return nil, fmt.Errorf("get articles: %w", err)
	}

	articles := make([]domain.Article, len(sqlArticles))
	for i, a := range sqlArticles {
		articles[i] = *r.toDomainArticle(&a)
	}
	return articles, nil
}

// GetSavedArticles pages the materialized saved index by save time, newest
// saves first, without scanning the articles table
func (r *ArticleRepository) GetSavedArticles(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Article, error) {
	query := `
		SELECT a.* FROM articles a
		JOIN saved_articles s ON s.article_id = a.id AND s.owner_id = a.owner_id
		WHERE a.owner_id = ?
		ORDER BY s.saved_at DESC
		LIMIT ? OFFSET ?
	`
	var sqlArticles []articleSQL
	if err := r.db.SelectContext(ctx, &sqlArticles, query, ownerID, limit, offset); err != nil {
		return nil, fmt.Errorf("get saved articles: %w", err)
	}

	articles := make([]domain.Article, len(sqlArticles))
	for i, a := range sqlArticles {
		articles[i] = *r.toDomainArticle(&a)
	}
	return articles, nil
}

// SetArticleRead sets the read flag and returns the previous value
func (r *ArticleRepository) SetArticleRead(ctx context.Context, ownerID, id int64, read bool) (wasRead bool, err error) {
	err = r.db.GetContext(ctx, &wasRead, "SELECT is_read FROM articles WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("article %d: %w", id, domain.ErrArticleNotFound)
		}
		return false, fmt.Errorf("get read state: %w", err)
	}

	_, err = r.db.ExecContext(ctx, "UPDATE articles SET is_read = ? WHERE id = ? AND owner_id = ?", read, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("set article read: %w", err)
	}
	return wasRead, nil
}

// ToggleArticleSaved flips the saved flag and keeps the saved_articles index
// in step within one transaction. Returns the new saved state.
func (r *ArticleRepository) ToggleArticleSaved(ctx context.Context, ownerID, id int64) (saved bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin toggle saved: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current bool
	if err = tx.GetContext(ctx, &current, "SELECT is_saved FROM articles WHERE id = ? AND owner_id = ?", id, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("article %d: %w", id, domain.ErrArticleNotFound)
		}
		return false, fmt.Errorf("get saved state: %w", err)
	}

	saved = !current
	if _, err = tx.ExecContext(ctx, "UPDATE articles SET is_saved = ? WHERE id = ? AND owner_id = ?", saved, id, ownerID); err != nil {
		return false, fmt.Errorf("update saved flag: %w", err)
	}

	if saved {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO saved_articles (article_id, owner_id, saved_at) VALUES (?, ?, datetime('now')) ON CONFLICT (owner_id, article_id) DO NOTHING",
			id, ownerID)
	} else {
		_, err = tx.ExecContext(ctx, "DELETE FROM saved_articles WHERE article_id = ? AND owner_id = ?", id, ownerID)
	}
	if err != nil {
		return false, fmt.Errorf("update saved index: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit toggle saved: %w", err)
	}
	return saved, nil
}

// ReconcileSavedIndex rebuilds the saved_articles index from the is_saved
// flags, which are the source of truth when the two disagree
func (r *ArticleRepository) ReconcileSavedIndex(ctx context.Context, ownerID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reconcile: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// drop orphaned index rows
	_, err = tx.ExecContext(ctx, `
		DELETE FROM saved_articles
		WHERE owner_id = ?
		AND article_id NOT IN (SELECT id FROM articles WHERE owner_id = ? AND is_saved = 1)
	`, ownerID, ownerID)
	if err != nil {
		return fmt.Errorf("prune saved index: %w", err)
	}

	// restore missing index rows
	_, err = tx.ExecContext(ctx, `
		INSERT INTO saved_articles (article_id, owner_id, saved_at)
		SELECT id, owner_id, datetime('now') FROM articles
		WHERE owner_id = ? AND is_saved = 1
		AND id NOT IN (SELECT article_id FROM saved_articles WHERE owner_id = ?)
	`, ownerID, ownerID)
	if err != nil {
		return fmt.Errorf("rebuild saved index: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reconcile: %w", err)
	}
	return nil
}

// CountSavedIndex returns the saved index rows for one article, used by
// consistency checks
func (r *ArticleRepository) CountSavedIndex(ctx context.Context, ownerID, articleID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM saved_articles WHERE owner_id = ? AND article_id = ?", ownerID, articleID)
	if err != nil {
		return 0, fmt.Errorf("count saved index: %w", err)
	}
	return count, nil
}

// UpdateArticleTags replaces the tag set of an article
func (r *ArticleRepository) UpdateArticleTags(ctx context.Context, ownerID, id int64, tags []string) error {
	value, err := tagsSQL(tags).Value()
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = r.db.ExecContext(ctx, "UPDATE articles SET tags = ? WHERE id = ? AND owner_id = ?", value, id, ownerID)
	if err != nil {
		return fmt.Errorf("update article tags: %w", err)
	}
	return nil
}

// toDomainArticle converts articleSQL to domain.Article
func (r *ArticleRepository) toDomainArticle(sqlArticle *articleSQL) *domain.Article {
	return &domain.Article{
		ID:          sqlArticle.ID,
		OwnerID:     sqlArticle.OwnerID,
		FeedID:      sqlArticle.FeedID,
		Title:       sqlArticle.Title,
		Description: sqlArticle.Description,
		Link:        sqlArticle.Link,
		Author:      sqlArticle.Author,
		Published:   sqlArticle.Published,
		Tags:        sqlArticle.Tags,
		ImageURL:    sqlArticle.ImageURL,
		IsRead:      sqlArticle.IsRead,
		IsSaved:     sqlArticle.IsSaved,
		CreatedAt:   sqlArticle.CreatedAt,
	}
}
