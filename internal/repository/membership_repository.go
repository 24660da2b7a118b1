package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-classwall/internal/models"
)

// MembershipRepository derives class/section affiliations of a user.
type MembershipRepository struct {
	db *sqlx.DB
}

// NewMembershipRepository creates the repository.
func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// ListCreated returns every section of the classes the user created.
func (r *MembershipRepository) ListCreated(ctx context.Context, userID string) ([]models.Membership, error) {
	const query = `SELECT c.id AS class_id, c.name AS class_name, s.section
FROM classes c
JOIN class_sections s ON s.class_id = c.id
WHERE c.creator_id = $1
ORDER BY c.name ASC, s.section ASC`
	var memberships []models.Membership
	if err := r.db.SelectContext(ctx, &memberships, query, userID); err != nil {
		return nil, fmt.Errorf("list created classes: %w", err)
	}
	return memberships, nil
}

// ListEnrolled returns the sections the user is actively enrolled in.
func (r *MembershipRepository) ListEnrolled(ctx context.Context, userID string) ([]models.Membership, error) {
	const query = `SELECT c.id AS class_id, c.name AS class_name, e.section
FROM enrollments e
JOIN classes c ON c.id = e.class_id
WHERE e.user_id = $1 AND e.status = 'ACTIVE'
ORDER BY c.name ASC, e.section ASC`
	var memberships []models.Membership
	if err := r.db.SelectContext(ctx, &memberships, query, userID); err != nil {
		return nil, fmt.Errorf("list enrolled classes: %w", err)
	}
	return memberships, nil
}
