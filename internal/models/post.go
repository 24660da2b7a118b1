package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Audience is the declared visibility policy of a post.
type Audience string

const (
	AudienceWorld  Audience = "World"
	AudienceClass  Audience = "Class"
	AudienceOnlyMe Audience = "OnlyMe"
)

// Attachment is the metadata of a picked file or image. The bytes live with the attachment provider.
type Attachment struct {
	Name string `json:"name" validate:"required"`
	Size int64  `json:"size" validate:"gte=0"`
	Type string `json:"type" validate:"required"`
	URI  string `json:"uri" validate:"required"`
}

// Value stores the attachment as JSON.
func (a Attachment) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan decodes a JSON attachment.
func (a *Attachment) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// Attachments is a JSON encoded attachment list.
type Attachments []Attachment

// Value stores the list as JSON, never as NULL.
func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Attachment(a))
}

// Scan decodes a JSON attachment list.
func (a *Attachments) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// SectionRefs is a JSON encoded list of targeted sections.
type SectionRefs []SectionRef

// Value stores the list as JSON, never as NULL.
func (s SectionRefs) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]SectionRef(s))
}

// Scan decodes a JSON section list.
func (s *SectionRefs) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// Post is a feed item. Announcements projected into the feed share the shape.
type Post struct {
	ID               string         `db:"id" json:"id"`
	ClientRef        string         `db:"client_ref" json:"clientRef,omitempty"`
	AuthorID         string         `db:"author_id" json:"authorId"`
	Author           string         `db:"author" json:"author"`
	Role             UserRole       `db:"role" json:"role"`
	Message          string         `db:"message" json:"message"`
	CreatedAt        time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updatedAt"`
	Audience         Audience       `db:"audience" json:"audience,omitempty"`
	SelectedSections SectionRefs    `db:"selected_sections" json:"selectedSections,omitempty"`
	Likes            int            `db:"likes" json:"likes"`
	LikedBy          pq.StringArray `db:"liked_by" json:"likedBy"`
	Comments         int            `db:"comments" json:"comments"`
	Image            *Attachment    `db:"image" json:"image,omitempty"`
	Files            Attachments    `db:"files" json:"files,omitempty"`
	IsAnnouncement   bool           `db:"is_announcement" json:"isAnnouncement"`
}

// ItemID implements feed.Item.
func (p Post) ItemID() string { return p.ID }

// ItemClientRef implements feed.Item.
func (p Post) ItemClientRef() string { return p.ClientRef }

// ItemCreatedAt implements feed.Item.
func (p Post) ItemCreatedAt() time.Time { return p.CreatedAt }

// ItemAuthorID implements feed.Item.
func (p Post) ItemAuthorID() string { return p.AuthorID }

// ItemMessage implements feed.Item.
func (p Post) ItemMessage() string { return p.Message }

// HasAttachments reports whether the post carries an image or files.
func (p Post) HasAttachments() bool {
	return p.Image != nil || len(p.Files) > 0
}

// LikedByViewer reports whether the viewer is in the likedBy set.
func (p Post) LikedByViewer(viewerID string) bool {
	for _, id := range p.LikedBy {
		if id == viewerID {
			return true
		}
	}
	return false
}

// Normalize removes duplicate likers and derives likes from the set.
func (p Post) Normalize() Post {
	seen := make(map[string]struct{}, len(p.LikedBy))
	likedBy := make(pq.StringArray, 0, len(p.LikedBy))
	for _, id := range p.LikedBy {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		likedBy = append(likedBy, id)
	}
	p.LikedBy = likedBy
	p.Likes = len(likedBy)
	if p.Comments < 0 {
		p.Comments = 0
	}
	return p
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json source %T", src)
	}
}
