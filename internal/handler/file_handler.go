package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
	"github.com/noah-isme/sma-classwall/pkg/response"
)

type attachmentResolver interface {
	Resolve(token string) (postID, uri string, err error)
}

// FileHandler redeems signed attachment links.
type FileHandler struct {
	attachments attachmentResolver
}

// NewFileHandler constructs the handler.
func NewFileHandler(attachments attachmentResolver) *FileHandler {
	return &FileHandler{attachments: attachments}
}

// Download godoc
// @Summary Download attachment
// @Description Redirects a valid signed link to the attachment provider
// @Tags Files
// @Param token path string true "Signed token"
// @Success 302
// @Failure 401 {object} response.Envelope
// @Router /files/{token} [get]
func (h *FileHandler) Download(c *gin.Context) {
	_, uri, err := h.attachments.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	target, err := url.Parse(uri)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "attachment is not downloadable"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, target.String())
}
