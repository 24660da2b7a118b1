package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-classwall/internal/models"
)

const postColumns = `id, client_ref, author_id, author, role, message, created_at, updated_at, audience, selected_sections,
COALESCE(cardinality(liked_by), 0) AS likes, liked_by, comments, image, files, is_announcement`

// PostRepository persists wall posts.
type PostRepository struct {
	db *sqlx.DB
}

// NewPostRepository creates the repository.
func NewPostRepository(db *sqlx.DB) *PostRepository {
	return &PostRepository{db: db}
}

// ListWall returns the newest posts of the wall. likes is always derived from liked_by.
func (r *PostRepository) ListWall(ctx context.Context, limit int) ([]models.Post, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM posts ORDER BY created_at DESC, id DESC LIMIT %d`, postColumns, limit)
	var posts []models.Post
	if err := r.db.SelectContext(ctx, &posts, query); err != nil {
		return nil, fmt.Errorf("list wall posts: %w", err)
	}
	return posts, nil
}

// FindByID returns a post by identifier.
func (r *PostRepository) FindByID(ctx context.Context, id string) (*models.Post, error) {
	query := fmt.Sprintf(`SELECT %s FROM posts WHERE id = $1`, postColumns)
	var post models.Post
	if err := r.db.GetContext(ctx, &post, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find post: %w", err)
	}
	return &post, nil
}

// Create inserts the post. The id is assigned here; created_at and updated_at come from the database clock.
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	post.ID = uuid.NewString()
	if post.LikedBy == nil {
		post.LikedBy = pq.StringArray{}
	}
	post.Likes = len(post.LikedBy)

	const query = `INSERT INTO posts (id, client_ref, author_id, author, role, message, audience, selected_sections, liked_by, comments, image, files, is_announcement)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING created_at, updated_at`
	if err := r.db.QueryRowxContext(ctx, query,
		post.ID, post.ClientRef, post.AuthorID, post.Author, post.Role, post.Message, post.Audience,
		post.SelectedSections, post.LikedBy, post.Comments, post.Image, post.Files, post.IsAnnouncement,
	).Scan(&post.CreatedAt, &post.UpdatedAt); err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// Update rewrites the editable fields and stamps updated_at with the database clock.
// It reports whether the post still exists.
func (r *PostRepository) Update(ctx context.Context, post *models.Post) (bool, error) {
	const query = `UPDATE posts SET message = $1, audience = $2, selected_sections = $3, image = $4, files = $5, updated_at = now()
WHERE id = $6 RETURNING updated_at`
	err := r.db.QueryRowxContext(ctx, query,
		post.Message, post.Audience, post.SelectedSections, post.Image, post.Files, post.ID,
	).Scan(&post.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("update post: %w", err)
	}
	return true, nil
}

// Delete removes the post together with its comment thread. Deleting an absent post is not an error.
func (r *PostRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete post tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE post_id = $1`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete post comments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete post: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete post tx: %w", err)
	}
	return nil
}

// SetLike makes the user's membership in liked_by equal to liked and returns the stored set.
// Repeating the same call leaves the row unchanged.
func (r *PostRepository) SetLike(ctx context.Context, postID, userID string, liked bool) (pq.StringArray, error) {
	const query = `UPDATE posts SET liked_by = CASE
    WHEN $3 AND NOT ($2 = ANY(liked_by)) THEN array_append(liked_by, $2)
    WHEN NOT $3 THEN array_remove(liked_by, $2)
    ELSE liked_by END,
  updated_at = now()
WHERE id = $1
RETURNING liked_by`
	var likedBy pq.StringArray
	if err := r.db.GetContext(ctx, &likedBy, query, postID, userID, liked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("set post like: %w", err)
	}
	return likedBy, nil
}
