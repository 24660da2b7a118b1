package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-classwall/internal/dto"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
	"github.com/noah-isme/sma-classwall/pkg/response"
)

// CommentHandler serves post comment threads.
type CommentHandler struct {
	sessions sessionProvider
}

// NewCommentHandler constructs the handler.
func NewCommentHandler(sessions sessionProvider) *CommentHandler {
	return &CommentHandler{sessions: sessions}
}

// List godoc
// @Summary Comment thread
// @Description Opens the post's thread if needed and returns it, newest first
// @Tags Comments
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} response.Envelope
// @Router /posts/{id}/comments [get]
func (h *CommentHandler) List(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	postID := c.Param("id")
	if _, err := sess.Comments.OpenThread(c.Request.Context(), postID); err != nil {
		response.Error(c, err)
		return
	}
	items, _ := sess.Comments.Thread(postID)
	if items == nil {
		items = []dto.CommentItem{}
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"count": len(items)})
}

// Add godoc
// @Summary Add comment
// @Description Appends the comment and bumps the post's comment count
// @Tags Comments
// @Accept json
// @Produce json
// @Param id path string true "Post ID"
// @Param payload body dto.AddCommentRequest true "Comment"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /posts/{id}/comments [post]
func (h *CommentHandler) Add(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	var req dto.AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}
	result, err := sess.Comments.Add(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondMutation(c, http.StatusCreated, result)
}

// Close godoc
// @Summary Close comment thread
// @Description Stops tracking the post's comments; pending completions for it are dropped
// @Tags Comments
// @Param id path string true "Post ID"
// @Success 204
// @Router /posts/{id}/comments [delete]
func (h *CommentHandler) Close(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	sess.Comments.CloseThread(c.Param("id"))
	response.NoContent(c)
}
