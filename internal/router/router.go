package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"focustown/backend/internal/handler"
	"focustown/backend/internal/middleware"
	"focustown/backend/internal/service"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Session *handler.SessionHandler
	Group   *handler.GroupHandler
	Engine  *handler.EngineHandler
}

func New(authService *service.AuthService, handlers Handlers, corsOrigins []string) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), middleware.CORS(corsOrigins))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	auth := api.Group("/auth")
	auth.POST("/register", handlers.Auth.Register)
	auth.POST("/login", handlers.Auth.Login)

	protected := api.Group("")
	protected.Use(middleware.Auth(authService))
	protected.GET("/me", handlers.Auth.Me)
	protected.GET("/settings", handlers.Session.GetSettings)
	protected.PUT("/settings", handlers.Session.UpdateSettings)

	session := protected.Group("/session")
	session.GET("", handlers.Session.GetState)
	session.GET("/history", handlers.Session.GetHistory)
	session.POST("/config", handlers.Session.UpdateConfig)
	session.POST("/start", handlers.Session.Start)
	session.POST("/cancel-setup", handlers.Session.CancelSetup)
	session.POST("/end", handlers.Session.End)
	session.POST("/abandon/request", handlers.Session.RequestAbandon)
	session.POST("/abandon/confirm", handlers.Session.ConfirmAbandon)
	session.POST("/abandon/cancel", handlers.Session.CancelAbandon)
	session.POST("/another", handlers.Session.StartAnother)
	session.POST("/break", handlers.Session.TakeBreak)
	session.POST("/break/duration", handlers.Session.SetBreakDuration)
	session.POST("/break/start", handlers.Session.StartBreak)
	session.POST("/break/end", handlers.Session.EndBreak)
	session.POST("/home", handlers.Session.GoHome)
	session.POST("/abandoned/continue", handlers.Session.ContinueFromAbandoned)
	session.POST("/abandoned/home", handlers.Session.GoHomeFromAbandoned)

	groups := protected.Group("/groups")
	groups.POST("", handlers.Group.Create)
	groups.GET("/:id", handlers.Group.Get)
	groups.POST("/:id/join", handlers.Group.Join)
	groups.POST("/:id/leave", handlers.Group.Leave)
	groups.POST("/:id/start", handlers.Group.Start)
	groups.POST("/:id/cancel", handlers.Group.Cancel)

	engineRoutes := protected.Group("/engine")
	engineRoutes.POST("/scene", handlers.Engine.ChangeScene)
	engineRoutes.POST("/character", handlers.Engine.SetCharacter)
	engineRoutes.POST("/camera", handlers.Engine.SwitchCamera)
	engineRoutes.POST("/events", handlers.Engine.PostEvent)
	engineRoutes.GET("/ws", handlers.Engine.Connect)

	return engine
}
