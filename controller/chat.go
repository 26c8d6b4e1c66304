package controller

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"aichatpal/lib"
	"aichatpal/model"
	"aichatpal/platform"
	"aichatpal/service"
)

const (
	maxAttachments      = 5
	maxAttachmentBytes  = 8 * 1024 * 1024
	maxTotalAttachBytes = 12 * 1024 * 1024
)

// Generator is what the chat flow needs from the generation client.
type Generator interface {
	IsConfigured() bool
	Generate(ctx context.Context, contents []*genai.Content, modelOverride string, onChunk func(string)) (string, error)
}

// ChatController handles message exchange, key activation and user data
// endpoints.
type ChatController struct {
	Sessions *service.SessionService
	History  *service.HistoryService
	Quota    *service.QuotaService
	Convos   *service.ConversationService
	Auth     *service.AuthService
	Gen      Generator
	Store    *platform.Store
	DemoKeys map[string]time.Time
	Logger   *logrus.Logger
}

// GetHistory returns the current conversation's messages plus the free-quota
// remainder.
func (ctrl *ChatController) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctrl.Sessions.ResolveUser(c)
	cid := ctrl.Sessions.ResolveConversation(c, userID)

	history := ctrl.History.Load(ctx, userID, cid)
	items := make([]gin.H, 0, len(history))
	for _, m := range history {
		items = append(items, gin.H{"role": m.Role, "content": m.Content})
	}
	c.JSON(http.StatusOK, gin.H{
		"history": items,
		"left":    ctrl.Quota.FreeRemaining(ctx, userID, ctrl.Auth.IsAdmin(c)),
	})
}

// ChatStream admits, generates and persists one exchange, streaming the reply
// as plain text. Admission rejections never reach the provider.
func (ctrl *ChatController) ChatStream(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctrl.Sessions.ResolveUser(c)
	cid := ctrl.Sessions.ResolveConversation(c, userID)

	var req struct {
		Message     string               `json:"message"`
		Attachments []service.Attachment `json:"attachments"`
		Model       string               `json:"model"`
	}
	_ = c.ShouldBindJSON(&req)

	text := strings.TrimSpace(req.Message)
	if text == "" && len(req.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty message"})
		return
	}

	isAdmin := ctrl.Auth.IsAdmin(c)

	if len(req.Attachments) > maxAttachments {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Too many attachments (max 5)",
			"left":  ctrl.Quota.FreeRemaining(ctx, userID, isAdmin),
		})
		return
	}
	var attachments []service.Attachment
	var names []string
	totalSize := 0
	for _, att := range req.Attachments {
		if att.Data == "" {
			continue
		}
		size := lib.EstimateBase64Bytes(att.Data)
		name := att.Name
		if name == "" {
			name = "attachment"
		}
		if size > maxAttachmentBytes {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": name + " is too large (max 8MB)",
				"left":  ctrl.Quota.FreeRemaining(ctx, userID, isAdmin),
			})
			return
		}
		totalSize += size
		attachments = append(attachments, att)
		names = append(names, name)
	}
	if totalSize > maxTotalAttachBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Attachments too large (max 12MB total)",
			"left":  ctrl.Quota.FreeRemaining(ctx, userID, isAdmin),
		})
		return
	}

	if !ctrl.Gen.IsConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": service.ErrNotConfigured.Error()})
		return
	}

	if !isAdmin && !ctrl.Quota.HasActiveGrant(ctx, userID) {
		if ctrl.Quota.Count(ctx, userID) >= int64(ctrl.Quota.Limit()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Daily free limit reached. Use a key to unlock unlimited.",
				"left":  0,
			})
			return
		}
		// Counted before the provider call: a provider failure still consumes
		// one quota unit.
		ctrl.Quota.IncrementAndGet(ctx, userID)
	}

	userContent := text
	if len(names) > 0 {
		preview := strings.Join(names[:min(len(names), 3)], ", ")
		if len(names) > 3 {
			preview += "…"
		}
		if userContent != "" {
			userContent += "\n\n(Attached: " + preview + ")"
		} else {
			userContent = "(Attached: " + preview + ")"
		}
	}

	history := ctrl.History.Load(ctx, userID, cid)
	history = append(history, model.Message{
		Role:      model.RoleUser,
		Content:   userContent,
		Timestamp: time.Now().UTC(),
	})
	contents := service.BuildContents(history, "", false, attachments)

	c.Header("x-usage-left", strconv.FormatInt(ctrl.Quota.FreeRemaining(ctx, userID, isAdmin), 10))
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	flusher, _ := c.Writer.(http.Flusher)

	reply, err := ctrl.Gen.Generate(ctx, contents, req.Model, func(chunk string) {
		_, _ = c.Writer.WriteString(chunk)
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil {
		ctrl.Logger.Warnf("[%s] generation failed for %d: %v", c.GetString("requestId"), userID, err)
		_, _ = c.Writer.WriteString("Error: " + err.Error())
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	history = append(history, model.Message{
		Role:      model.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now().UTC(),
	})
	ctrl.History.Save(ctx, userID, history, cid)
	ctrl.Convos.Touch(ctx, userID, cid)
	titleBasis := text
	if titleBasis == "" {
		titleBasis = userContent
	}
	ctrl.Convos.AutoTitle(ctx, userID, cid, titleBasis)
}

// ActivateKey validates a key against the static demo table and records the
// grant.
func (ctrl *ChatController) ActivateKey(c *gin.Context) {
	userID := ctrl.Sessions.ResolveUser(c)

	var req struct {
		Key string `json:"key"`
	}
	_ = c.ShouldBindJSON(&req)
	key := strings.TrimSpace(req.Key)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Missing key"})
		return
	}
	validUntil, found := ctrl.DemoKeys[key]
	if !found || validUntil.Before(time.Now().UTC()) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid key"})
		return
	}
	if err := ctrl.Quota.SetGrant(c.Request.Context(), userID, key, validUntil); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "DB error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "valid_until": validUntil.Format(time.RFC3339)})
}

// LogoutKey removes the caller's grant.
func (ctrl *ChatController) LogoutKey(c *gin.Context) {
	userID := ctrl.Sessions.ResolveUser(c)
	removed := ctrl.Quota.ClearGrant(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{"ok": true, "removed": removed})
}

// Export returns all of the caller's history documents.
func (ctrl *ChatController) Export(c *gin.Context) {
	userID := ctrl.Sessions.ResolveUser(c)
	raws, err := ctrl.Store.History.FindAll(c.Request.Context(), bson.M{"user_id": userID}, nil)
	if err != nil {
		ctrl.Logger.Warnf("[%s] DB error export: %v", c.GetString("requestId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "DB error"})
		return
	}
	docs := make([]bson.M, 0, len(raws))
	for _, raw := range raws {
		var doc bson.M
		if err := bson.Unmarshal(raw, &doc); err != nil {
			continue
		}
		delete(doc, "_id")
		docs = append(docs, doc)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": docs})
}

// ClearAll wipes the caller's conversations, history and usage counter.
func (ctrl *ChatController) ClearAll(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctrl.Sessions.ResolveUser(c)
	if _, err := ctrl.Store.History.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		ctrl.Logger.Warnf("[%s] DB error clear all: %v", c.GetString("requestId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "DB error"})
		return
	}
	ctrl.History.Forget()
	if _, err := ctrl.Store.Conversations.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		ctrl.Logger.Warnf("[%s] DB error clear all: %v", c.GetString("requestId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "DB error"})
		return
	}
	err := ctrl.Store.Users.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"user_id": userID, "message_count": int64(0)},
		true)
	if err != nil {
		ctrl.Logger.Warnf("[%s] DB error clear all: %v", c.GetString("requestId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "DB error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
