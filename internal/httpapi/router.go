package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/radiglow/internal/chat"
	"github.com/suPer8Hu/radiglow/internal/common"
	"github.com/suPer8Hu/radiglow/internal/config"
	"github.com/suPer8Hu/radiglow/internal/httpapi/handlers"
	"github.com/suPer8Hu/radiglow/internal/httpapi/middleware"
	"github.com/suPer8Hu/radiglow/internal/identity"
)

func NewRouter(cfg config.Config, users *identity.Store, chatSvc *chat.Service, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.MaxMultipartMemory = 16 << 20
	// guest quota is keyed by client ip; do not honour forwarded headers
	_ = r.SetTrustedProxies(nil)

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(cfg, users, chatSvc, logger)

	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.POST("/chat/guest", h.GuestChat)
	api.GET("/guest/usage", h.GuestUsage)

	authGroup := api.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret, users))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/user/chats", h.ListChats)
	authGroup.POST("/chat/send", h.SendChatMessage)
	authGroup.POST("/chat/upload", h.UploadImage)
	authGroup.GET("/chat/:chat_id", h.GetChat)
	authGroup.DELETE("/chat/:chat_id", h.DeleteChat)
	return r
}
