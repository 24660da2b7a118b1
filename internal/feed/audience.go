package feed

import "github.com/noah-isme/sma-classwall/internal/models"

// Visible decides whether the viewer should see the post. It is display logic only:
// unknown audiences and untagged Class posts fail open.
func Visible(post models.Post, viewer models.Identity, membership models.MembershipSet) bool {
	switch post.Audience {
	case "", models.AudienceWorld:
		return true
	case models.AudienceOnlyMe:
		return post.AuthorID == viewer.ID
	case models.AudienceClass:
		if post.AuthorID == viewer.ID || len(post.SelectedSections) == 0 {
			return true
		}
		for _, s := range post.SelectedSections {
			if membership.Has(s) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// FilterVisible keeps the entries the viewer may see, preserving order.
func FilterVisible(entries []Entry[models.Post], viewer models.Identity, membership models.MembershipSet) []Entry[models.Post] {
	out := make([]Entry[models.Post], 0, len(entries))
	for _, e := range entries {
		if Visible(e.Item, viewer, membership) {
			out = append(out, e)
		}
	}
	return out
}
