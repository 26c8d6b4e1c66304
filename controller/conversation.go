package controller

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"aichatpal/service"
)

// ConversationController covers listing, switching and lifecycle of
// conversations.
type ConversationController struct {
	Sessions *service.SessionService
	Convos   *service.ConversationService
	Auth     *service.AuthService
	Logger   *logrus.Logger
}

// List returns the caller's conversations ordered most recent first, the
// current conversation id and the admin flag the front end keys its UI on.
func (ctrl *ConversationController) List(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctrl.Sessions.ResolveUser(c)
	cid := ctrl.Sessions.ResolveConversation(c, userID)

	metas := ctrl.Convos.List(ctx, userID)
	items := make([]gin.H, 0, len(metas))
	for _, m := range metas {
		items = append(items, gin.H{
			"id":         m.ID,
			"title":      m.Title,
			"updated_at": m.UpdatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": items,
		"current":       cid,
		"is_admin":      ctrl.Auth.IsAdmin(c),
	})
}

// Create starts a new conversation and makes it current.
func (ctrl *ConversationController) Create(c *gin.Context) {
	userID := ctrl.Sessions.ResolveUser(c)

	var req struct {
		Title string `json:"title"`
	}
	_ = c.ShouldBindJSON(&req)

	meta := ctrl.Convos.Create(c.Request.Context(), userID, service.NewConversationID(), strings.TrimSpace(req.Title))
	ctrl.Sessions.SelectConversation(c, meta.ID)
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": meta.ID, "title": meta.Title})
}

// Select switches the current conversation to an existing one.
func (ctrl *ConversationController) Select(c *gin.Context) {
	userID := ctrl.Sessions.ResolveUser(c)

	var req struct {
		ID string `json:"id"`
	}
	_ = c.ShouldBindJSON(&req)
	id := strings.TrimSpace(req.ID)
	if id == "" || !ctrl.Convos.Exists(c.Request.Context(), userID, id) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Conversation not found"})
		return
	}
	ctrl.Sessions.SelectConversation(c, id)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Rename updates a conversation's title.
func (ctrl *ConversationController) Rename(c *gin.Context) {
	userID := ctrl.Sessions.ResolveUser(c)
	id := c.Param("id")

	var req struct {
		Title string `json:"title"`
	}
	_ = c.ShouldBindJSON(&req)
	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Missing title"})
		return
	}
	if err := ctrl.Convos.Rename(c.Request.Context(), userID, id, title); err != nil {
		ctrl.Logger.Warnf("[%s] DB error renaming conversation: %v", c.GetString("requestId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "DB error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a conversation, then reports which conversation became
// current.
func (ctrl *ConversationController) Delete(c *gin.Context) {
	userID := ctrl.Sessions.ResolveUser(c)
	id := c.Param("id")

	current := ctrl.Convos.Delete(c.Request.Context(), userID, id)
	ctrl.Sessions.SelectConversation(c, current)
	c.JSON(http.StatusOK, gin.H{"ok": true, "current": current})
}

// NewChat is the one-click variant of Create used by the composer button.
func (ctrl *ConversationController) NewChat(c *gin.Context) {
	userID := ctrl.Sessions.ResolveUser(c)
	meta := ctrl.Convos.Create(c.Request.Context(), userID, service.NewConversationID(), "")
	ctrl.Sessions.SelectConversation(c, meta.ID)
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": meta.ID})
}
