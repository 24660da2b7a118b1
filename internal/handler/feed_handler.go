package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-classwall/internal/dto"
	"github.com/noah-isme/sma-classwall/internal/service"
	"github.com/noah-isme/sma-classwall/pkg/response"
)

type digestRenderer interface {
	Render(items []dto.WallItem, format dto.ExportFormat, viewerName string) (*dto.DigestFile, error)
}

// FeedHandler serves the viewer's wall.
type FeedHandler struct {
	sessions  sessionProvider
	digest    digestRenderer
	heartbeat time.Duration
}

// NewFeedHandler constructs the handler. heartbeat spaces keep-alive events on the stream.
func NewFeedHandler(sessions sessionProvider, digest digestRenderer, heartbeat time.Duration) *FeedHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &FeedHandler{sessions: sessions, digest: digest, heartbeat: heartbeat}
}

// List godoc
// @Summary Wall
// @Description Posts visible to the viewer, newest first. Unsaved posts carry pending=true and a local: id.
// @Tags Feed
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /feed [get]
func (h *FeedHandler) List(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	items := sess.Items()
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"count": len(items)})
}

// Stream godoc
// @Summary Live wall
// @Description Server-sent events: "wall" with the visible wall after every change, "thread" when an open comment thread changes, "event" for feed events
// @Tags Feed
// @Produce text/event-stream
// @Success 200
// @Failure 401 {object} response.Envelope
// @Router /feed/stream [get]
func (h *FeedHandler) Stream(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	updates, cancel := sess.Updates()
	defer cancel()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-store")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("wall", sess.Items())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case update, open := <-updates:
			if !open {
				return false
			}
			switch update.Kind {
			case service.UpdateEvent:
				c.SSEvent("event", update.Event)
			case service.UpdateThread:
				c.SSEvent("thread", gin.H{"scope": update.Scope})
			default:
				c.SSEvent("wall", sess.Items())
			}
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC())
			return true
		}
	})
}

// Warnings godoc
// @Summary Sync warnings
// @Description Returns and clears the changes that were kept locally because the backend rejected them
// @Tags Feed
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /feed/warnings [get]
func (h *FeedHandler) Warnings(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, sess.Warnings.Drain())
}

// Export godoc
// @Summary Wall digest
// @Description Download the visible wall as CSV or PDF
// @Tags Feed
// @Produce octet-stream
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /feed/export [get]
func (h *FeedHandler) Export(c *gin.Context) {
	sess, ok := viewerSession(c, h.sessions)
	if !ok {
		return
	}
	file, err := h.digest.Render(sess.Items(), dto.ExportFormat(c.DefaultQuery("format", string(dto.ExportFormatCSV))), sess.Identity.Current().DisplayName)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
