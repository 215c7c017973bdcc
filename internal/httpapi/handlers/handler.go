package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/radiglow/internal/chat"
	"github.com/suPer8Hu/radiglow/internal/common"
	"github.com/suPer8Hu/radiglow/internal/config"
	"github.com/suPer8Hu/radiglow/internal/httpapi/middleware"
	"github.com/suPer8Hu/radiglow/internal/identity"
)

type Handler struct {
	Cfg     config.Config
	Users   *identity.Store
	ChatSvc *chat.Service
	Log     *slog.Logger
}

func NewHandler(cfg config.Config, users *identity.Store, chatSvc *chat.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Cfg: cfg, Users: users, ChatSvc: chatSvc, Log: logger}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func callerFromContext(c *gin.Context) (chat.Caller, bool) {
	acc, ok := middleware.AccountFromContext(c)
	if !ok {
		return chat.Caller{}, false
	}
	return chat.Caller{ID: acc.ID, Email: acc.Email}, true
}

// internalError logs err with request context and answers with a generic body.
func (h *Handler) internalError(c *gin.Context, code int, op string, err error) {
	h.Log.Error(op+" failed",
		"request_id", c.GetString(middleware.RequestIDKey),
		"user_id", c.GetUint64(middleware.UserIDKey),
		"error", err,
	)
	common.Fail(c, http.StatusInternalServerError, code, "internal error")
}
