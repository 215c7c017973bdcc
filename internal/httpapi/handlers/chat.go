package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/radiglow/internal/chat"
	"github.com/suPer8Hu/radiglow/internal/common"
	"github.com/suPer8Hu/radiglow/internal/db"
	"github.com/suPer8Hu/radiglow/internal/httpapi/middleware"
)

const maxUploadBytes = 10 << 20

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
	ChatID  string `json:"chat_id"`
}

type guestMessageReq struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) ListChats(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	chats, err := h.ChatSvc.ListChats(c.Request.Context(), caller.ID)
	if err != nil {
		h.chatError(c, "list chats", err)
		return
	}
	common.OK(c, chats)
}

func (h *Handler) GetChat(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	sess, msgs, err := h.ChatSvc.History(c.Request.Context(), caller, c.Param("chat_id"))
	if err != nil {
		h.chatError(c, "get chat", err)
		return
	}
	common.OK(c, gin.H{
		"id":         sess.ID,
		"title":      sess.Title,
		"created_at": sess.CreatedAt,
		"updated_at": sess.UpdatedAt,
		"messages":   msgs,
	})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	if err := h.ChatSvc.DeleteChat(c.Request.Context(), caller.ID, c.Param("chat_id")); err != nil {
		h.chatError(c, "delete chat", err)
		return
	}
	common.OK(c, gin.H{"message": "Chat deleted successfully"})
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	turn, err := h.ChatSvc.SendMessage(c.Request.Context(), caller, req.ChatID, req.Message)
	if err != nil {
		h.chatError(c, "send message", err)
		return
	}
	common.OK(c, turn)
}

// UploadImage takes a multipart file. text and chat_id come from the form
// or, failing that, the query string.
func (h *Handler) UploadImage(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10005, "file required")
		return
	}
	if fh.Size > maxUploadBytes {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "file too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10006, "cannot read file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10006, "cannot read file")
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	turn, err := h.ChatSvc.SendImage(c.Request.Context(), caller, formOrQuery(c, "chat_id"), formOrQuery(c, "text"), chat.Image{
		Data:        data,
		Filename:    fh.Filename,
		ContentType: contentType,
	})
	if err != nil {
		h.chatError(c, "upload image", err)
		return
	}
	common.OK(c, turn)
}

func formOrQuery(c *gin.Context, key string) string {
	if v := c.PostForm(key); v != "" {
		return v
	}
	return c.Query(key)
}

func (h *Handler) GuestChat(c *gin.Context) {
	var req guestMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	reply, err := h.ChatSvc.GuestChat(c.Request.Context(), c.ClientIP(), req.Message)
	if errors.Is(err, chat.ErrQuotaExceeded) {
		common.FailWith(c, http.StatusTooManyRequests, 42901,
			"Daily limit reached. Please sign up for unlimited access.",
			gin.H{"type": "usage_limit", "remaining": 0, "total": h.ChatSvc.GuestLimit()})
		return
	}
	if err != nil {
		h.chatError(c, "guest chat", err)
		return
	}
	common.OK(c, reply)
}

func (h *Handler) GuestUsage(c *gin.Context) {
	q, err := h.ChatSvc.GuestUsage(c.Request.Context(), c.ClientIP())
	if err != nil {
		h.internalError(c, 50003, "guest usage", err)
		return
	}
	common.OK(c, q)
}

func (h *Handler) chatError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40404, "Chat not found or not authorized")
	case errors.Is(err, chat.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10007, "message required")
	case errors.Is(err, chat.ErrNotImage):
		common.Fail(c, http.StatusBadRequest, 10008, "File must be an image")
	case db.IsBusy(err):
		h.Log.Warn(op+" busy", "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusServiceUnavailable, 50301, "storage busy, try again")
	case errors.Is(err, context.Canceled):
		// client went away
		c.Status(499)
	default:
		h.internalError(c, 50001, op, err)
	}
}
