package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/radiglow/internal/auth"
	"github.com/suPer8Hu/radiglow/internal/common"
	"github.com/suPer8Hu/radiglow/internal/identity"
)

const (
	UserIDKey    = "user_id"
	AccountKey   = "account"
	RequestIDKey = "request_id"

	RequestIDHeader = "X-Request-ID"
	TokenCookie     = "token"
)

// AccountLookup resolves the user named by a verified token.
type AccountLookup interface {
	GetUserByID(ctx context.Context, id uint64) (*identity.Account, error)
}

func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					"request_id", c.GetString(RequestIDKey),
					"path", c.Request.URL.Path,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// RequestID keeps a sane client supplied X-Request-ID, otherwise assigns a ULID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 64 {
			id = common.NewULID()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func Logger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"request_id", c.GetString(RequestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"cost", time.Since(start),
		)
	}
}

// AuthRequired accepts the token cookie or an Authorization Bearer header.
func AuthRequired(secret string, accounts AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token, _ = c.Cookie(TokenCookie)
		}
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
			c.Abort()
			return
		}

		uid, err := auth.ParseJWT(token, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}

		acc, err := accounts.GetUserByID(c.Request.Context(), uid)
		if errors.Is(err, identity.ErrUserNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			c.Abort()
			return
		}
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
			c.Abort()
			return
		}

		c.Set(UserIDKey, acc.ID)
		c.Set(AccountKey, acc)
		c.Next()
	}
}

func bearerToken(h string) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// AccountFromContext returns the account set by AuthRequired.
func AccountFromContext(c *gin.Context) (*identity.Account, bool) {
	v, ok := c.Get(AccountKey)
	if !ok {
		return nil, false
	}
	acc, ok := v.(*identity.Account)
	return acc, ok
}
