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

// CommentRepository persists post comment threads.
type CommentRepository struct {
	db *sqlx.DB
}

// NewCommentRepository creates the repository.
func NewCommentRepository(db *sqlx.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// ListByPost returns the thread of a post, newest first.
func (r *CommentRepository) ListByPost(ctx context.Context, postID string) ([]models.Comment, error) {
	const query = `SELECT id, client_ref, post_id, author_id, author, role, message, created_at
FROM comments WHERE post_id = $1 ORDER BY created_at DESC, id DESC`
	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, query, postID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// pq error code for foreign_key_violation.
const fkViolation = "23503"

// Create inserts the comment and recounts the parent's comments in one transaction.
// It returns the parent's new comment count; sql.ErrNoRows means the post is gone.
func (r *CommentRepository) Create(ctx context.Context, comment *models.Comment) (int, error) {
	comment.ID = uuid.NewString()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create comment tx: %w", err)
	}
	const insert = `INSERT INTO comments (id, client_ref, post_id, author_id, author, role, message)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`
	if err := tx.QueryRowxContext(ctx, insert,
		comment.ID, comment.ClientRef, comment.PostID, comment.AuthorID, comment.Author, comment.Role, comment.Message,
	).Scan(&comment.CreatedAt); err != nil {
		_ = tx.Rollback()
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == fkViolation {
			return 0, fmt.Errorf("create comment on %s: %w", comment.PostID, sql.ErrNoRows)
		}
		return 0, fmt.Errorf("create comment: %w", err)
	}
	const recount = `UPDATE posts SET comments = (SELECT COUNT(*) FROM comments WHERE post_id = $1) WHERE id = $1 RETURNING comments`
	var count int
	if err := tx.GetContext(ctx, &count, recount, comment.PostID); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		return 0, fmt.Errorf("recount comments: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create comment tx: %w", err)
	}
	return count, nil
}
