package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/radiglow/internal/auth"
	"github.com/suPer8Hu/radiglow/internal/common"
	"github.com/suPer8Hu/radiglow/internal/httpapi/middleware"
	"github.com/suPer8Hu/radiglow/internal/identity"
)

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email, password and name required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "invalid email")
		return
	}

	acc, err := h.Users.CreateUser(c.Request.Context(), req.Email, req.Name, req.Password)
	if errors.Is(err, identity.ErrEmailTaken) {
		common.Fail(c, http.StatusBadRequest, 10004, "Email already registered")
		return
	}
	if err != nil {
		h.internalError(c, 20001, "register", err)
		return
	}

	h.Log.Info("user registered", "user_id", acc.ID)
	h.issueToken(c, acc)
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	acc, err := h.Users.Authenticate(c.Request.Context(), strings.TrimSpace(req.Email), req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		common.Fail(c, http.StatusUnauthorized, 40103, "Invalid credentials")
		return
	}
	if err != nil {
		h.internalError(c, 20001, "login", err)
		return
	}
	h.issueToken(c, acc)
}

func (h *Handler) Me(c *gin.Context) {
	acc, ok := middleware.AccountFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	common.OK(c, acc)
}

func (h *Handler) issueToken(c *gin.Context, acc *identity.Account) {
	token, err := auth.SignJWT(acc.ID, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		h.internalError(c, 20003, "sign token", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, token, h.Cfg.CookieMaxAge, "/", "", h.Cfg.SecureCookie, true)

	common.OK(c, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"user":         acc,
	})
}
