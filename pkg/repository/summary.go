package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SummaryRepository caches generated article summaries. Summaries are
// immutable once stored; articles never change after ingestion so there is
// no invalidation path.
type SummaryRepository struct {
	db *sqlx.DB
}

// NewSummaryRepository creates a new summary repository
func NewSummaryRepository(database *sqlx.DB) *SummaryRepository {
	return &SummaryRepository{db: database}
}

// GetSummary returns the cached summary text for an article, ok=false on a
// cache miss
func (r *SummaryRepository) GetSummary(ctx context.Context, ownerID, articleID int64) (text string, ok bool, err error) {
	err = r.db.GetContext(ctx, &text,
		"SELECT summary FROM article_summaries WHERE owner_id = ? AND article_id = ?", ownerID, articleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get summary: %w", err)
	}
	return text, true, nil
}

// SaveSummary stores a generated summary. A concurrent generation of the
// same summary keeps the first write.
func (r *SummaryRepository) SaveSummary(ctx context.Context, ownerID, articleID int64, text string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO article_summaries (article_id, owner_id, summary)
		VALUES (?, ?, ?)
		ON CONFLICT (owner_id, article_id) DO NOTHING
	`, articleID, ownerID, text)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}
