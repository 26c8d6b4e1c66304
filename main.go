package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	_uuid "github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"aichatpal/controller"
	"aichatpal/platform"
	"aichatpal/service"
)

// CORSMiddleware ...
// CORS (Cross-Origin Resource Sharing)
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, UPDATE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "X-Requested-With, Content-Type, Origin, Authorization, Accept, Client-Security-Token, Accept-Encoding")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, x-usage-left")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
		} else {
			c.Next()
		}
	}
}

// RequestIDMiddleware ...
// Generate a unique ID and attach it to each request for future reference or use
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uuid := _uuid.New()
		c.Writer.Header().Set("X-Request-Id", uuid.String())
		c.Set("requestId", uuid.String())
		c.Next()
	}
}

func LogMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		if raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		userAgent := c.Request.UserAgent()
		requestId := c.GetString("requestId")

		logger.Infof(
			" [%s] %d | %v | %s | %s | %s | %s ",
			requestId,
			status,
			latency,
			clientIP,
			method,
			path,
			userAgent,
		)
	}
}

func main() {
	fmt.Println("Server started...")

	//Load the .env file
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("failed to load the env file")
	}

	ring := platform.NewRingBuffer(500)
	logger := platform.InitAppLogger("./log", "aichatpal", ring)

	ctx := context.Background()
	store := platform.NewStore(logger)
	llm := platform.NewLLMClient(ctx, logger)

	freeLimit := service.DefaultFreeDailyLimit
	if v := os.Getenv("FREE_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			freeLimit = n
		}
	}

	quota := service.NewQuotaService(store, logger, freeLimit)
	history := service.NewHistoryService(store, logger)
	convos := service.NewConversationService(store, history, logger)
	sessions := service.NewSessionService(convos, logger)
	auth := service.NewAuthService()
	gen := service.NewGenerateService(llm, logger)

	chat := &controller.ChatController{
		Sessions: sessions,
		History:  history,
		Quota:    quota,
		Convos:   convos,
		Auth:     auth,
		Gen:      gen,
		Store:    store,
		DemoKeys: service.LoadDemoKeys(),
		Logger:   logger,
	}
	conversations := &controller.ConversationController{
		Sessions: sessions,
		Convos:   convos,
		Auth:     auth,
		Logger:   logger,
	}
	admin := &controller.AdminController{
		Auth:   auth,
		Store:  store,
		Ring:   ring,
		Logger: logger,
	}

	r := gin.Default()
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LogMiddleware(logger))

	api := r.Group("/api")
	{
		api.GET("/history", chat.GetHistory)
		api.POST("/chat_stream", chat.ChatStream)
		api.POST("/key", chat.ActivateKey)
		api.DELETE("/key", chat.LogoutKey)
		api.GET("/export", chat.Export)
		api.DELETE("/clear_all", chat.ClearAll)

		api.GET("/conversations", conversations.List)
		api.POST("/conversations", conversations.Create)
		api.POST("/select_conversation", conversations.Select)
		api.PUT("/conversations/:id", conversations.Rename)
		api.DELETE("/conversations/:id", conversations.Delete)
		api.POST("/newchat", conversations.NewChat)

		api.POST("/login", admin.Login)
		api.POST("/logout", admin.Logout)
	}
	r.GET("/adminJackLogs", admin.Logs)

	if os.Getenv("ENABLE_DAILY_RESET") != "false" {
		c := cron.New()
		c.AddFunc("0 0 * * *", func() {
			quota.ResetAll(context.Background())
		})
		c.Start()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	r.Run(":" + port)
}
