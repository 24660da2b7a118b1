package models

import "time"

// Comment belongs to a post's comment thread and is immutable once created.
type Comment struct {
	ID        string    `db:"id" json:"id"`
	ClientRef string    `db:"client_ref" json:"clientRef,omitempty"`
	PostID    string    `db:"post_id" json:"postId"`
	AuthorID  string    `db:"author_id" json:"authorId"`
	Author    string    `db:"author" json:"author"`
	Role      UserRole  `db:"role" json:"role"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// ItemID implements feed.Item.
func (c Comment) ItemID() string { return c.ID }

// ItemClientRef implements feed.Item.
func (c Comment) ItemClientRef() string { return c.ClientRef }

// ItemCreatedAt implements feed.Item.
func (c Comment) ItemCreatedAt() time.Time { return c.CreatedAt }

// ItemAuthorID implements feed.Item.
func (c Comment) ItemAuthorID() string { return c.AuthorID }

// ItemMessage implements feed.Item.
func (c Comment) ItemMessage() string { return c.Message }
