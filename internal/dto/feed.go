package dto

import (
	"time"

	"github.com/noah-isme/sma-classwall/internal/models"
)

// CreatePostRequest is the draft submitted by the viewer.
type CreatePostRequest struct {
	Message          string              `json:"message" validate:"max=5000"`
	Audience         models.Audience     `json:"audience" validate:"omitempty,audience"`
	SelectedSections []models.SectionRef `json:"selectedSections" validate:"dive"`
	Image            *models.Attachment  `json:"image" validate:"omitempty"`
	Files            []models.Attachment `json:"files" validate:"dive"`
	IsAnnouncement   bool                `json:"isAnnouncement"`
}

// EditPostRequest carries the editable fields. Nil fields are left unchanged.
type EditPostRequest struct {
	Message          *string              `json:"message" validate:"omitempty,max=5000"`
	Audience         *models.Audience     `json:"audience" validate:"omitempty,audience"`
	SelectedSections *[]models.SectionRef `json:"selectedSections"`
	Image            *models.Attachment   `json:"image"`
	RemoveImage      bool                 `json:"removeImage"`
	Files            *[]models.Attachment `json:"files"`
}

// AddCommentRequest is a new comment on a post.
type AddCommentRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}

// WallItem is a visible feed entry as rendered for the viewer.
type WallItem struct {
	ID      string      `json:"id"`
	Pending bool        `json:"pending"`
	Liked   bool        `json:"liked"`
	Post    models.Post `json:"post"`
}

// CommentItem is a comment thread entry as rendered for the viewer.
type CommentItem struct {
	ID      string         `json:"id"`
	Pending bool           `json:"pending"`
	Comment models.Comment `json:"comment"`
}

// MutationResult reports the local outcome of a write and, when it could not be synced, the warning.
type MutationResult struct {
	ID      string              `json:"id"`
	LocalID string              `json:"localId,omitempty"`
	Outcome string              `json:"outcome,omitempty"`
	Item    interface{}         `json:"item,omitempty"`
	Warning *models.SyncWarning `json:"warning,omitempty"`
}

// LikeResult is the engagement state after a toggle.
type LikeResult struct {
	PostID  string              `json:"postId"`
	Likes   int                 `json:"likes"`
	LikedBy []string            `json:"likedBy"`
	Liked   bool                `json:"liked"`
	Warning *models.SyncWarning `json:"warning,omitempty"`
}

// AttachmentLink is a signed, expiring download link for one attachment.
type AttachmentLink struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Size      int64     `json:"size"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExportFormat selects the digest renderer.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// DigestFile is a rendered wall digest.
type DigestFile struct {
	Filename    string
	ContentType string
	Content     []byte
}
