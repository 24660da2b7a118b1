package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-classwall/internal/models"
)

const (
	credentialColumns = `id, email, password_hash, display_name, role, avatar_url, active, created_at, updated_at`
	profileColumns    = `id, email, display_name, role, avatar_url, active, created_at, updated_at`
)

// UserRepository reads viewer credentials and profile documents.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns the user with its password hash for sign-in. Matching ignores case.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1`, credentialColumns)
	return r.getOne(ctx, "find user by email", query, email)
}

// FindProfile returns the profile document of a viewer. The password hash is not loaded.
func (r *UserRepository) FindProfile(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, profileColumns)
	return r.getOne(ctx, "find profile", query, id)
}

// getOne passes sql.ErrNoRows through unwrapped so callers can map it to their own not-found error.
func (r *UserRepository) getOne(ctx context.Context, op, query string, arg interface{}) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &user, nil
}
