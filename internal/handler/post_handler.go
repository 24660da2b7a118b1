package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-classwall/internal/dto"
	"github.com/noah-isme/sma-classwall/internal/feed"
	"github.com/noah-isme/sma-classwall/internal/models"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
	"github.com/noah-isme/sma-classwall/pkg/response"
)

type attachmentLinker interface {
	Links(post models.Post) ([]dto.AttachmentLink, error)
}

// PostHandler serves post mutations on the viewer's wall.
type PostHandler struct {
	sessions    sessionProvider
	attachments attachmentLinker
}

// NewPostHandler constructs the handler.
func NewPostHandler(sessions sessionProvider, attachments attachmentLinker) *PostHandler {
	return &PostHandler{sessions: sessions, attachments: attachments}
}

// Create godoc
// @Summary Create post
// @Description Adds the post to the wall immediately and persists it. 202 with a warning when only the local copy exists.
// @Tags Posts
// @Accept json
// @Produce json
// @Param payload body dto.CreatePostRequest true "Post"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /posts [post]
func (h *PostHandler) Create(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	var req dto.CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid post payload"))
		return
	}
	result, err := sess.Wall.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondMutation(c, http.StatusCreated, result)
}

// Edit godoc
// @Summary Edit post
// @Description Changes message, audience, sections or attachments. Author or instructor only.
// @Tags Posts
// @Accept json
// @Produce json
// @Param id path string true "Post ID"
// @Param payload body dto.EditPostRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /posts/{id} [patch]
func (h *PostHandler) Edit(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	var req dto.EditPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid post payload"))
		return
	}
	result, err := sess.Wall.Edit(c.Request.Context(), feed.ParseItemID(c.Param("id")), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondMutation(c, http.StatusOK, result)
}

// Delete godoc
// @Summary Delete post
// @Description Removes the post and its comments. Deleting an absent post succeeds.
// @Tags Posts
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /posts/{id} [delete]
func (h *PostHandler) Delete(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	result, err := sess.Wall.Delete(c.Request.Context(), feed.ParseItemID(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondMutation(c, http.StatusOK, result)
}

// Like godoc
// @Summary Toggle like
// @Description Likes the post, or unlikes it when the viewer already liked it
// @Tags Posts
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /posts/{id}/like [post]
func (h *PostHandler) Like(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	result, err := sess.Wall.ToggleLike(c.Request.Context(), feed.ParseItemID(c.Param("id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Warning != nil {
		response.Warning(c, result, appErrors.Clone(appErrors.ErrSyncWarning, result.Warning.Message))
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Files godoc
// @Summary Attachment links
// @Description Signed, expiring download links for the post's image and files
// @Tags Posts
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /posts/{id}/files [get]
func (h *PostHandler) Files(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	entry, found := sess.Wall.Get(feed.ParseItemID(c.Param("id")))
	if !found || !feed.Visible(entry.Item, sess.Identity.Current(), sess.Membership()) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "post not found"))
		return
	}
	if entry.Pending() {
		response.Error(c, appErrors.Clone(appErrors.ErrPendingItem, "post is still being saved"))
		return
	}
	links, err := h.attachments.Links(entry.Item)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, links)
}
