package controller

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"aichatpal/platform"
	"aichatpal/service"
)

const adminTokenMaxAge = 7 * 24 * 60 * 60

// AdminController handles the operator login and the diagnostics page.
type AdminController struct {
	Auth   *service.AuthService
	Store  *platform.Store
	Ring   *platform.RingBuffer
	Logger *logrus.Logger
}

// Login checks operator credentials and sets the signed admin cookie.
func (ctrl *AdminController) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = c.ShouldBindJSON(&req)

	if !ctrl.Auth.CheckCredentials(strings.TrimSpace(req.Username), req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "Invalid credentials"})
		return
	}
	token, err := ctrl.Auth.CreateAdminToken()
	if err != nil {
		ctrl.Logger.Errorf("[%s] admin token signing failed: %v", c.GetString("requestId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Token error"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie("admin", token, adminTokenMaxAge, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Logout clears the admin cookie.
func (ctrl *AdminController) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie("admin", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Logs renders document counts and the most recent log lines as plain text.
// Count failures render as -1 so a broken store never hides the page.
func (ctrl *AdminController) Logs(c *gin.Context) {
	if !ctrl.Auth.IsAdmin(c) {
		c.String(http.StatusForbidden, "Forbidden")
		return
	}
	ctx := c.Request.Context()

	var b strings.Builder
	fmt.Fprintf(&b, "DB: users=%d, history=%d, keys_in_use=%d, conversations=%d\n",
		countOrNegative(ctx, ctrl.Store.Users),
		countOrNegative(ctx, ctrl.Store.History),
		countOrNegative(ctx, ctrl.Store.Keys),
		countOrNegative(ctx, ctrl.Store.Conversations))
	b.WriteString("\nRecent logs:\n")
	for _, line := range ctrl.Ring.Tail(30) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	c.String(http.StatusOK, b.String())
}

func countOrNegative(ctx context.Context, col platform.Collection) int64 {
	n, err := col.Count(ctx, bson.M{})
	if err != nil {
		return -1
	}
	return n
}
