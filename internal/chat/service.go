package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/radiglow/internal/ai"
	"github.com/suPer8Hu/radiglow/internal/vault"
)

var (
	ErrEmptyMessage  = errors.New("chat: empty message")
	ErrNotImage      = errors.New("chat: file must be an image")
	ErrQuotaExceeded = errors.New("chat: guest daily limit reached")
)

const (
	titleMaxRunes      = 30
	defaultImagePrompt = "Please analyze this medical image and provide detailed insights."
	guestDateLayout    = "2006-01-02"
)

// Inference produces the assistant side of a turn.
type Inference interface {
	Invoke(ctx context.Context, req ai.Request) (ai.Reply, error)
}

// GuestCounter tracks guest turns per IP and day. identity.Store satisfies it.
type GuestCounter interface {
	GetGuestUsage(ctx context.Context, ip, date string) (int, error)
	IncrementGuestUsage(ctx context.Context, ip, date string) (int, error)
}

// Caller is an authenticated user. Email is the key derivation secret.
type Caller struct {
	ID    uint64
	Email string
}

type Image struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Turn is the result of one user message and its reply.
type Turn struct {
	ChatID    string         `json:"id"`
	Title     string         `json:"title"`
	Messages  []HistoryEntry `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	IsNewChat bool           `json:"is_new_chat"`
	Model     string         `json:"model"`
}

type GuestReply struct {
	Message   string `json:"message"`
	Response  string `json:"response"`
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
	Model     string `json:"model"`
}

type GuestQuota struct {
	Remaining int  `json:"remaining"`
	Total     int  `json:"total"`
	CanUse    bool `json:"can_use"`
}

type Options struct {
	GuestDailyLimit int
	MaxTokens       int
	Logger          *slog.Logger
}

type Service struct {
	store      *Store
	keys       *vault.KeyCache
	inference  Inference
	guests     GuestCounter
	guestLimit int
	maxTokens  int
	log        *slog.Logger
	now        func() time.Time
}

func NewService(store *Store, keys *vault.KeyCache, inference Inference, guests GuestCounter, opts Options) *Service {
	if opts.GuestDailyLimit <= 0 {
		opts.GuestDailyLimit = 3
	}
	if opts.MaxTokens <= 0 || opts.MaxTokens > 4096 {
		opts.MaxTokens = 500
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:      store,
		keys:       keys,
		inference:  inference,
		guests:     guests,
		guestLimit: opts.GuestDailyLimit,
		maxTokens:  opts.MaxTokens,
		log:        opts.Logger,
		now:        time.Now,
	}
}

// SendMessage stores text and the assistant reply in chatID, or in a new
// session titled after text when chatID is empty.
func (s *Service) SendMessage(ctx context.Context, caller Caller, chatID, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	return s.turn(ctx, caller, chatID, titleFrom(text), text, ai.Request{Text: text})
}

// SendImage is SendMessage with an attached image for the medical backend.
// Without text the stored user message names the file instead.
func (s *Service) SendImage(ctx context.Context, caller Caller, chatID, text string, img Image) (*Turn, error) {
	if !strings.HasPrefix(img.ContentType, "image/") || len(img.Data) == 0 {
		return nil, ErrNotImage
	}

	text = strings.TrimSpace(text)
	title := "Image Analysis - " + img.Filename
	userMessage := "Uploaded image: " + img.Filename
	prompt := defaultImagePrompt
	if text != "" {
		title = titleFrom(text)
		userMessage = text
		prompt = text
	}
	return s.turn(ctx, caller, chatID, title, userMessage, ai.Request{
		Text:      prompt,
		Image:     img.Data,
		ImageName: img.Filename,
	})
}

func (s *Service) turn(ctx context.Context, caller Caller, chatID, newTitle, userMessage string, req ai.Request) (*Turn, error) {
	start := time.Now()
	key := s.keys.Get(caller.ID, caller.Email)

	chatID = normalizeChatID(chatID)
	out := &Turn{ChatID: chatID, Title: newTitle}
	if chatID == "" {
		id, err := s.store.CreateSession(ctx, caller.ID, newTitle)
		if err != nil {
			return nil, err
		}
		out.ChatID = id
		out.IsNewChat = true
	} else {
		sess, err := s.store.GetSession(ctx, chatID, caller.ID)
		if err != nil {
			return nil, err
		}
		out.Title = sess.Title
	}

	if _, err := s.store.AppendMessage(ctx, out.ChatID, userMessage, SenderUser, caller.ID, key); err != nil {
		if out.IsNewChat {
			s.dropEmptySession(ctx, out.ChatID, caller.ID)
		}
		return nil, err
	}

	req.MaxTokens = s.maxTokens
	reply, err := s.inference.Invoke(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	if _, err := s.store.AppendMessage(ctx, out.ChatID, reply.Text, SenderAssistant, caller.ID, key); err != nil {
		return nil, err
	}

	hist, err := s.store.GetHistory(ctx, out.ChatID, key)
	if err != nil {
		return nil, err
	}
	out.Messages = hist
	out.Model = reply.Model
	out.CreatedAt = s.now().UTC()

	s.log.Info("chat turn",
		"user_id", caller.ID,
		"chat_id", out.ChatID,
		"new_chat", out.IsNewChat,
		"image", len(req.Image) > 0,
		"model", reply.Model,
		"cost", time.Since(start),
	)
	return out, nil
}

// dropEmptySession removes a session created for a turn whose first
// message never landed.
func (s *Service) dropEmptySession(ctx context.Context, chatID string, userID uint64) {
	if _, err := s.store.DeleteSession(context.WithoutCancel(ctx), chatID, userID); err != nil {
		s.log.Warn("drop empty session", "chat_id", chatID, "user_id", userID, "error", err)
	}
}

// History returns the session and its decrypted messages for its owner.
func (s *Service) History(ctx context.Context, caller Caller, chatID string) (*SessionSummary, []HistoryEntry, error) {
	sess, err := s.store.GetSession(ctx, chatID, caller.ID)
	if err != nil {
		return nil, nil, err
	}
	hist, err := s.store.GetHistory(ctx, chatID, s.keys.Get(caller.ID, caller.Email))
	if err != nil {
		return nil, nil, err
	}
	return sess, hist, nil
}

func (s *Service) ListChats(ctx context.Context, userID uint64) ([]SessionSummary, error) {
	return s.store.ListSessions(ctx, userID)
}

// DeleteChat yields ErrSessionNotFound when nothing was deleted.
func (s *Service) DeleteChat(ctx context.Context, userID uint64, chatID string) error {
	ok, err := s.store.DeleteSession(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	s.log.Info("chat deleted", "user_id", userID, "chat_id", chatID)
	return nil
}

// GuestChat answers an unauthenticated caller, charging one unit of the
// daily quota for ip. Guest turns are not persisted.
func (s *Service) GuestChat(ctx context.Context, ip, text string) (*GuestReply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	date := s.today()

	used, err := s.guests.GetGuestUsage(ctx, ip, date)
	if err != nil {
		return nil, err
	}
	if used >= s.guestLimit {
		return nil, ErrQuotaExceeded
	}
	count, err := s.guests.IncrementGuestUsage(ctx, ip, date)
	if err != nil {
		return nil, err
	}
	// a concurrent request may have taken the last unit between the two calls
	if count > s.guestLimit {
		return nil, ErrQuotaExceeded
	}

	reply, err := s.inference.Invoke(ctx, ai.Request{Text: text, MaxTokens: s.maxTokens})
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	return &GuestReply{
		Message:   text,
		Response:  reply.Text,
		Remaining: max(s.guestLimit-count, 0),
		Total:     s.guestLimit,
		Model:     reply.Model,
	}, nil
}

func (s *Service) GuestUsage(ctx context.Context, ip string) (*GuestQuota, error) {
	used, err := s.guests.GetGuestUsage(ctx, ip, s.today())
	if err != nil {
		return nil, err
	}
	remaining := max(s.guestLimit-used, 0)
	return &GuestQuota{Remaining: remaining, Total: s.guestLimit, CanUse: remaining > 0}, nil
}

func (s *Service) GuestLimit() int { return s.guestLimit }

func (s *Service) today() string {
	return s.now().Format(guestDateLayout)
}

func titleFrom(text string) string {
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	return string([]rune(text)[:titleMaxRunes]) + "..."
}

// normalizeChatID maps the placeholder values browsers send for "no chat"
// to the empty string.
func normalizeChatID(id string) string {
	id = strings.TrimSpace(id)
	if id == "null" || id == "undefined" {
		return ""
	}
	return id
}
