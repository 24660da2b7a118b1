package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-classwall/internal/models"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
	"github.com/noah-isme/sma-classwall/pkg/response"
)

type loginService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
}

// AuthHandler wires sign-in and viewer identity endpoints.
type AuthHandler struct {
	auth     loginService
	sessions sessionProvider
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(auth loginService, sessions sessionProvider) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions}
}

// Login godoc
// @Summary Authenticate viewer
// @Description Authenticate by email and password and receive an access token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Me godoc
// @Summary Current viewer
// @Description Returns the identity of the signed-in viewer
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, sess.Identity.Current())
}

// Memberships godoc
// @Summary Viewer memberships
// @Description Classes and sections the viewer created or is enrolled in
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /me/memberships [get]
func (h *AuthHandler) Memberships(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	memberships := sess.Membership()
	if memberships == nil {
		memberships = models.MembershipSet{}
	}
	response.JSON(c, http.StatusOK, memberships)
}

// EndSession godoc
// @Summary End viewer session
// @Description Closes the wall, comment threads and live subscriptions of the viewer
// @Tags Authentication
// @Success 204
// @Failure 401 {object} response.Envelope
// @Router /session [delete]
func (h *AuthHandler) EndSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	h.sessions.Release(claims.UserID)
	response.NoContent(c)
}
