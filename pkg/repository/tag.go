package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/feedwise/pkg/domain"
)

// TagRepository handles tag-related database operations
type TagRepository struct {
	db *sqlx.DB
}

// tagSQL represents a tag for SQL operations
type tagSQL struct {
	ID        int64     `db:"id"`
	OwnerID   int64     `db:"owner_id"`
	Name      string    `db:"name"`
	Color     string    `db:"color"`
	CreatedAt time.Time `db:"created_at"`
}

// NewTagRepository creates a new tag repository
func NewTagRepository(database *sqlx.DB) *TagRepository {
	return &TagRepository{db: database}
}

// CreateTag inserts a tag, lowercasing the name. A name collision within
// the owner fails with ErrTagConflict.
func (r *TagRepository) CreateTag(ctx context.Context, tag *domain.Tag) error {
	tag.Name = strings.ToLower(strings.TrimSpace(tag.Name))
	if tag.Name == "" {
		return fmt.Errorf("tag name is empty")
	}

	result, err := r.db.ExecContext(ctx, "INSERT INTO tags (owner_id, name, color) VALUES (?, ?, ?)",
		tag.OwnerID, tag.Name, tag.Color)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tag %q: %w", tag.Name, domain.ErrTagConflict)
		}
		return fmt.Errorf("create tag: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get insert id: %w", err)
	}
	tag.ID = id
	return nil
}

// GetTags retrieves all tags for an owner
func (r *TagRepository) GetTags(ctx context.Context, ownerID int64) ([]domain.Tag, error) {
	var sqlTags []tagSQL
	err := r.db.SelectContext(ctx, &sqlTags, "SELECT * FROM tags WHERE owner_id = ? ORDER BY name", ownerID)
	if err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}

	tags := make([]domain.Tag, len(sqlTags))
	for i, t := range sqlTags {
		tags[i] = domain.Tag{ID: t.ID, OwnerID: t.OwnerID, Name: t.Name, Color: t.Color, CreatedAt: t.CreatedAt}
	}
	return tags, nil
}

// TagNames returns just the owner's tag names, the scorer's input
func (r *TagRepository) TagNames(ctx context.Context, ownerID int64) ([]string, error) {
	var names []string
	err := r.db.SelectContext(ctx, &names, "SELECT name FROM tags WHERE owner_id = ? ORDER BY name", ownerID)
	if err != nil {
		return nil, fmt.Errorf("get tag names: %w", err)
	}
	return names, nil
}

// RenameTag changes a tag name, rejecting collisions with another tag of
// the same owner
func (r *TagRepository) RenameTag(ctx context.Context, ownerID, id int64, newName string) error {
	newName = strings.ToLower(strings.TrimSpace(newName))
	if newName == "" {
		return fmt.Errorf("tag name is empty")
	}

	var existing int64
	err := r.db.GetContext(ctx, &existing, "SELECT id FROM tags WHERE owner_id = ? AND name = ?", ownerID, newName)
	switch {
	case err == nil && existing != id:
		return fmt.Errorf("tag %q: %w", newName, domain.ErrTagConflict)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check tag name: %w", err)
	}

	result, err := r.db.ExecContext(ctx, "UPDATE tags SET name = ? WHERE id = ? AND owner_id = ?", newName, id, ownerID)
	if err != nil {
		if isUniqueViolation(err) { // constraint remains the final authority
			return fmt.Errorf("tag %q: %w", newName, domain.ErrTagConflict)
		}
		return fmt.Errorf("rename tag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename tag rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("tag %d not found", id)
	}
	return nil
}

// DeleteTag removes a tag
func (r *TagRepository) DeleteTag(ctx context.Context, ownerID, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM tags WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}
