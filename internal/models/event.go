package models

import "time"

// FeedEventType names the events a presentation layer may react to.
type FeedEventType string

const (
	EventPostCreated FeedEventType = "post.created"
	EventPostDeleted FeedEventType = "post.deleted"
	EventSyncWarning FeedEventType = "sync.warning"
)

// FeedEvent is delivered to the viewer that caused it.
type FeedEvent struct {
	ID       string        `json:"id"`
	Type     FeedEventType `json:"type"`
	ViewerID string        `json:"viewerId"`
	PostID   string        `json:"postId,omitempty"`
	Message  string        `json:"message,omitempty"`
	At       time.Time     `json:"at"`
}

// SyncWarning records a backend failure whose optimistic local change was kept.
type SyncWarning struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	ItemID    string    `json:"itemId"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}
