package feed

import (
	"github.com/lib/pq"

	"github.com/noah-isme/sma-classwall/internal/models"
)

// LikeState is the engagement state of a post after a like toggle.
type LikeState struct {
	Likes   int            `json:"likes"`
	LikedBy pq.StringArray `json:"likedBy"`
	Liked   bool           `json:"liked"`
}

// ToggleLike flips the viewer's membership in likedBy. The count is always derived from the set,
// so it cannot drift from it.
func ToggleLike(post models.Post, viewerID string) LikeState {
	current := post.Normalize().LikedBy
	likedBy := make(pq.StringArray, 0, len(current)+1)
	liked := true
	for _, id := range current {
		if id == viewerID {
			liked = false
			continue
		}
		likedBy = append(likedBy, id)
	}
	if liked {
		likedBy = append(likedBy, viewerID)
	}
	return LikeState{Likes: len(likedBy), LikedBy: likedBy, Liked: liked}
}

// StateOf reports the viewer's current like state without changing it.
func StateOf(post models.Post, viewerID string) LikeState {
	n := post.Normalize()
	return LikeState{Likes: n.Likes, LikedBy: n.LikedBy, Liked: n.LikedByViewer(viewerID)}
}

// ApplyLike writes the state onto the post.
func ApplyLike(post *models.Post, state LikeState) {
	post.LikedBy = append(pq.StringArray(nil), state.LikedBy...)
	post.Likes = len(post.LikedBy)
}

// AddComment bumps the denormalized comment count.
func AddComment(post models.Post) models.Post {
	post.Comments++
	return post
}
