package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gopherai-analyst/internal/audit"
	"gopherai-analyst/internal/bootstrap"
	"gopherai-analyst/internal/transport/http/handler"
	"gopherai-analyst/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.ZapLogger(app.Logger), middleware.ZapRecovery(app.Logger))

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var history handler.HistoryReader
	switch {
	case app.Transcripts != nil:
		history = app.Transcripts
	case app.Audits != nil:
		history = audit.NewHistoryReader(app.Audits, app.Config.Redis.TranscriptMaxTurns/2)
	}

	askHandler := handler.NewAskHandler(app.Answers)
	conversationHandler := handler.NewConversationHandler(app.Answers, history)
	adminHandler := handler.NewAdminHandler(app.Resolver, app.Catalog)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Authenticate(app.Config.Auth.Enabled, app.Config.Auth.JWTSecret))
	v1.POST("/ask", askHandler.Ask)
	v1.POST("/ask/sync", askHandler.AskSync)

	conversations := v1.Group("/conversations")
	conversations.POST("/:id/reset", conversationHandler.Reset)
	conversations.GET("/:id/history", conversationHandler.History)

	var tierOf func(string) int
	if app.Resolver != nil {
		tierOf = app.Resolver.ResolveUserTier
	}
	isAdmin := middleware.AdminPolicy(app.Config.Auth.AdminUsers, tierOf, app.Config.Auth.AdminMinTier)
	admin := v1.Group("/admin", middleware.RequireAdmin(isAdmin))
	admin.POST("/rbac/reload", adminHandler.ReloadRBAC)
	admin.POST("/tables/reload", adminHandler.ReloadTables)

	return router
}
