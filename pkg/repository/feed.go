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

// FeedRepository handles feed-related database operations
type FeedRepository struct {
	db *sqlx.DB
}

// feedSQL represents a feed for SQL operations
type feedSQL struct {
	ID            int64      `db:"id"`
	OwnerID       int64      `db:"owner_id"`
	URL           string     `db:"url"`
	Title         string     `db:"title"`
	FaviconURL    string     `db:"favicon_url"`
	Category      string     `db:"category"`
	Tags          tagsSQL    `db:"tags"`
	LastSynced    *time.Time `db:"last_synced"`
	UnreadCount   int        `db:"unread_count"`
	HasNewContent bool       `db:"has_new_content"`
	ETag          string     `db:"etag"`
	LastModified  string     `db:"last_modified"`
	ErrorCount    int        `db:"error_count"`
	LastError     string     `db:"last_error"`
	CreatedAt     time.Time  `db:"created_at"`
}

// NewFeedRepository creates a new feed repository
func NewFeedRepository(database *sqlx.DB) *FeedRepository {
	return &FeedRepository{db: database}
}

// CreateFeed inserts a new subscription. A second subscription to the same
// URL by the same owner fails with ErrDuplicateFeed.
func (r *FeedRepository) CreateFeed(ctx context.Context, feed *domain.Feed) error {
	sqlFeed := &feedSQL{
		OwnerID:    feed.OwnerID,
		URL:        feed.URL,
		Title:      feed.Title,
		FaviconURL: feed.FaviconURL,
		Category:   feed.Category,
		Tags:       tagsSQL(feed.Tags),
	}

	query := `
		INSERT INTO feeds (owner_id, url, title, favicon_url, category, tags)
		VALUES (:owner_id, :url, :title, :favicon_url, :category, :tags)
	`
	result, err := r.db.NamedExecContext(ctx, query, sqlFeed)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feed %s: %w", feed.URL, domain.ErrDuplicateFeed)
		}
		return fmt.Errorf("create feed: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get insert id: %w", err)
	}

	feed.ID = id
	return nil
}

// GetFeed retrieves a feed by ID, scoped to the owner
func (r *FeedRepository) GetFeed(ctx context.Context, ownerID, id int64) (*domain.Feed, error) {
	var sqlFeed feedSQL
	err := r.db.GetContext(ctx, &sqlFeed, "SELECT * FROM feeds WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("feed %d: %w", id, domain.ErrFeedNotFound)
		}
		return nil, fmt.Errorf("get feed: %w", err)
	}
	return r.toDomainFeed(&sqlFeed), nil
}

// GetFeeds retrieves all feeds for an owner
func (r *FeedRepository) GetFeeds(ctx context.Context, ownerID int64) ([]domain.Feed, error) {
	var sqlFeeds []feedSQL
	err := r.db.SelectContext(ctx, &sqlFeeds, "SELECT * FROM feeds WHERE owner_id = ? ORDER BY title", ownerID)
	if err != nil {
		return nil, fmt.Errorf("get feeds: %w", err)
	}

	feeds := make([]domain.Feed, len(sqlFeeds))
	for i, f := range sqlFeeds {
		feeds[i] = *r.toDomainFeed(&f)
	}
	return feeds, nil
}

// GetAllFeeds retrieves feeds across all owners, for the background refresher
func (r *FeedRepository) GetAllFeeds(ctx context.Context) ([]domain.Feed, error) {
	var sqlFeeds []feedSQL
	err := r.db.SelectContext(ctx, &sqlFeeds, "SELECT * FROM feeds ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("get all feeds: %w", err)
	}

	feeds := make([]domain.Feed, len(sqlFeeds))
	for i, f := range sqlFeeds {
		feeds[i] = *r.toDomainFeed(&f)
	}
	return feeds, nil
}

// UpdateFeedSynced records a completed ingestion: bumps last_synced, adds
// the newly created articles to the unread count, clears the new-content
// flag and error state, and stores fresh conditional-fetch validators
func (r *FeedRepository) UpdateFeedSynced(ctx context.Context, feedID int64, newArticles int, etag, lastModified string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE feeds
			SET last_synced = datetime('now'),
			    unread_count = unread_count + ?,
			    has_new_content = 0,
			    etag = ?,
			    last_modified = ?,
			    error_count = 0,
			    last_error = ''
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, newArticles, etag, lastModified, feedID)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("update feed synced: %w", err)}
		}
		return nil
	})
}

// UpdateFeedError updates feed after fetch error
func (r *FeedRepository) UpdateFeedError(ctx context.Context, feedID int64, errMsg string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE feeds
			SET error_count = error_count + 1,
			    last_error = ?
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, errMsg, feedID)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("update feed error: %w", err)}
		}
		return nil
	})
}

// SetHasNewContent stores the probe outcome for display
func (r *FeedRepository) SetHasNewContent(ctx context.Context, feedID int64, hasNew bool) error {
	_, err := r.db.ExecContext(ctx, "UPDATE feeds SET has_new_content = ? WHERE id = ?", hasNew, feedID)
	if err != nil {
		return fmt.Errorf("set has new content: %w", err)
	}
	return nil
}

// AdjustUnreadCount shifts the unread counter, clamped at zero
func (r *FeedRepository) AdjustUnreadCount(ctx context.Context, feedID int64, delta int) error {
	query := "UPDATE feeds SET unread_count = MAX(0, unread_count + ?) WHERE id = ?"
	if _, err := r.db.ExecContext(ctx, query, delta, feedID); err != nil {
		return fmt.Errorf("adjust unread count: %w", err)
	}
	return nil
}

// DeleteFeed removes a feed; owned articles, saved-index rows and summaries
// cascade
func (r *FeedRepository) DeleteFeed(ctx context.Context, ownerID, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM feeds WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete feed rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("feed %d: %w", id, domain.ErrFeedNotFound)
	}
	return nil
}

// toDomainFeed converts feedSQL to domain.Feed
func (r *FeedRepository) toDomainFeed(sqlFeed *feedSQL) *domain.Feed {
	return &domain.Feed{
		ID:            sqlFeed.ID,
		OwnerID:       sqlFeed.OwnerID,
		URL:           sqlFeed.URL,
		Title:         sqlFeed.Title,
		FaviconURL:    sqlFeed.FaviconURL,
		Category:      sqlFeed.Category,
		Tags:          sqlFeed.Tags,
		LastSyncedAt:  sqlFeed.LastSynced,
		UnreadCount:   sqlFeed.UnreadCount,
		HasNewContent: sqlFeed.HasNewContent,
		ETag:          sqlFeed.ETag,
		LastModified:  sqlFeed.LastModified,
		ErrorCount:    sqlFeed.ErrorCount,
		LastError:     sqlFeed.LastError,
		CreatedAt:     sqlFeed.CreatedAt,
	}
}
