package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/suPer8Hu/radiglow/internal/ai"
	"github.com/suPer8Hu/radiglow/internal/vault"
	"gorm.io/gorm"
)

type recordingInference struct {
	mu    sync.Mutex
	last  ai.Request
	calls int
	reply ai.Reply
	err   error
}

func (p *recordingInference) Invoke(ctx context.Context, req ai.Request) (ai.Reply, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = req
	p.calls++
	return p.reply, p.err
}

type memGuests struct {
	mu     sync.Mutex
	counts map[string]int
}

func (g *memGuests) GetGuestUsage(ctx context.Context, ip, date string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[ip+"|"+date], nil
}

func (g *memGuests) IncrementGuestUsage(ctx context.Context, ip, date string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counts == nil {
		g.counts = map[string]int{}
	}
	g.counts[ip+"|"+date]++
	return g.counts[ip+"|"+date], nil
}

func newTestService(t *testing.T, inf Inference) (*Service, *Store, *memGuests) {
	t.Helper()
	store := openTestStore(t)
	guests := &memGuests{}
	svc := NewService(store, vault.NewKeyCache(), inf, guests, Options{GuestDailyLimit: 3, MaxTokens: 500})
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local) }
	return svc, store, guests
}

var alice = Caller{ID: 42, Email: "a@x.com"}

func TestSendMessage_NewChat(t *testing.T) {
	inf := &recordingInference{reply: ai.Reply{Text: "ok", Model: "OpenRouter"}}
	svc, store, _ := newTestService(t, inf)

	turn, err := svc.SendMessage(context.Background(), alice, "", "Hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !turn.IsNewChat || turn.ChatID == "" || turn.Title != "Hello" || turn.Model != "OpenRouter" {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if len(turn.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(turn.Messages))
	}
	if turn.Messages[0].Sender != SenderUser || turn.Messages[0].Content != "Hello" {
		t.Fatalf("unexpected user msg %+v", turn.Messages[0])
	}
	if turn.Messages[1].Sender != SenderAssistant || turn.Messages[1].Content != "ok" {
		t.Fatalf("unexpected assistant msg %+v", turn.Messages[1])
	}
	if inf.last.Text != "Hello" || inf.last.MaxTokens != 500 || inf.last.Image != nil {
		t.Fatalf("unexpected inference request %+v", inf.last)
	}

	list, _ := store.ListSessions(context.Background(), alice.ID)
	if len(list) != 1 || list[0].ID != turn.ChatID {
		t.Fatalf("unexpected sessions %+v", list)
	}
}

func TestSendMessage_ContinuesExistingChat(t *testing.T) {
	inf := &recordingInference{reply: ai.Reply{Text: "ok", Model: "m"}}
	svc, _, _ := newTestService(t, inf)
	ctx := context.Background()

	first, err := svc.SendMessage(ctx, alice, "", "first question")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.SendMessage(ctx, alice, first.ChatID, "follow up")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.IsNewChat || second.ChatID != first.ChatID {
		t.Fatalf("expected same chat, got %+v", second)
	}
	if second.Title != "first question" {
		t.Fatalf("title should stay the session title, got %q", second.Title)
	}
	if len(second.Messages) != 4 || second.Messages[2].Content != "follow up" {
		t.Fatalf("unexpected history %+v", second.Messages)
	}
}

func TestSendMessage_PlaceholderChatIDStartsNewChat(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingInference{reply: ai.Reply{Text: "ok"}})
	for _, id := range []string{"null", "undefined", "  "} {
		turn, err := svc.SendMessage(context.Background(), alice, id, "hi")
		if err != nil {
			t.Fatalf("send with %q: %v", id, err)
		}
		if !turn.IsNewChat {
			t.Fatalf("chat id %q should start a new chat", id)
		}
	}
}

func TestSendMessage_OtherUsersChat(t *testing.T) {
	inf := &recordingInference{reply: ai.Reply{Text: "ok"}}
	svc, _, _ := newTestService(t, inf)
	ctx := context.Background()

	turn, _ := svc.SendMessage(ctx, alice, "", "mine")
	calls := inf.calls

	_, err := svc.SendMessage(ctx, Caller{ID: 7, Email: "b@x.com"}, turn.ChatID, "let me in")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if inf.calls != calls {
		t.Fatalf("inference called for rejected turn")
	}
}

func TestSendMessage_TruncatesTitle(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingInference{reply: ai.Reply{Text: "ok"}})
	long := strings.Repeat("é", 31)
	turn, err := svc.SendMessage(context.Background(), alice, "", long)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if want := strings.Repeat("é", 30) + "..."; turn.Title != want {
		t.Fatalf("title = %q, want %q", turn.Title, want)
	}
}

func TestSendMessage_Empty(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingInference{})
	if _, err := svc.SendMessage(context.Background(), alice, "", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendMessage_InferenceCancelled(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingInference{err: context.Canceled})
	if _, err := svc.SendMessage(context.Background(), alice, "", "hi"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSendMessage_FailedFirstAppendLeavesNoSession(t *testing.T) {
	inf := &recordingInference{reply: ai.Reply{Text: "ok"}}
	svc, store, _ := newTestService(t, inf)
	ctx := context.Background()

	err := store.db.Callback().Create().Before("gorm:create").Register("fail_message_insert", func(tx *gorm.DB) {
		if tx.Statement.Table == "chat_messages" {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	if _, err := svc.SendMessage(ctx, alice, "", "Hello"); err == nil {
		t.Fatalf("expected append error")
	}
	if list, _ := store.ListSessions(ctx, alice.ID); len(list) != 0 {
		t.Fatalf("empty session left behind: %+v", list)
	}
	if inf.calls != 0 {
		t.Fatalf("inference called after failed append")
	}
}

func TestSendImage_WithoutText(t *testing.T) {
	inf := &recordingInference{reply: ai.Reply{Text: "no fracture", Model: "MedGemma"}}
	svc, _, _ := newTestService(t, inf)

	turn, err := svc.SendImage(context.Background(), alice, "", "", Image{
		Data: []byte("PNG"), Filename: "xray.png", ContentType: "image/png",
	})
	if err != nil {
		t.Fatalf("send image: %v", err)
	}
	if turn.Title != "Image Analysis - xray.png" || !turn.IsNewChat {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if turn.Messages[0].Content != "Uploaded image: xray.png" {
		t.Fatalf("unexpected user message %q", turn.Messages[0].Content)
	}
	if inf.last.Text != defaultImagePrompt || string(inf.last.Image) != "PNG" || inf.last.ImageName != "xray.png" {
		t.Fatalf("unexpected inference request %+v", inf.last)
	}
}

func TestSendImage_WithText(t *testing.T) {
	inf := &recordingInference{reply: ai.Reply{Text: "ok"}}
	svc, _, _ := newTestService(t, inf)

	turn, err := svc.SendImage(context.Background(), alice, "", " is this a rash? ", Image{
		Data: []byte("JPG"), Filename: "arm.jpg", ContentType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("send image: %v", err)
	}
	if turn.Title != "is this a rash?" || turn.Messages[0].Content != "is this a rash?" {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if inf.last.Text != "is this a rash?" {
		t.Fatalf("prompt = %q", inf.last.Text)
	}
}

func TestSendImage_RejectsNonImage(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingInference{})
	_, err := svc.SendImage(context.Background(), alice, "", "", Image{
		Data: []byte("%PDF"), Filename: "a.pdf", ContentType: "application/pdf",
	})
	if !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
}

func TestHistoryAndDelete(t *testing.T) {
	svc, _, _ := newTestService(t, &recordingInference{reply: ai.Reply{Text: "ok"}})
	ctx := context.Background()
	turn, _ := svc.SendMessage(ctx, alice, "", "Hello")

	sess, hist, err := svc.History(ctx, alice, turn.ChatID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if sess.Title != "Hello" || len(hist) != 2 {
		t.Fatalf("unexpected history %+v %+v", sess, hist)
	}

	bob := Caller{ID: 9, Email: "b@x.com"}
	if _, _, err := svc.History(ctx, bob, turn.ChatID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("other user history: %v", err)
	}
	if err := svc.DeleteChat(ctx, bob.ID, turn.ChatID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("other user delete: %v", err)
	}
	if err := svc.DeleteChat(ctx, alice.ID, turn.ChatID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if list, _ := svc.ListChats(ctx, alice.ID); len(list) != 0 {
		t.Fatalf("chat still listed after delete")
	}
}

func TestGuestChat_Quota(t *testing.T) {
	inf := &recordingInference{reply: ai.Reply{Text: "rest", Model: "m"}}
	svc, _, guests := newTestService(t, inf)
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		r, err := svc.GuestChat(ctx, "1.2.3.4", "tired")
		if err != nil {
			t.Fatalf("guest chat: %v", err)
		}
		if r.Remaining != want || r.Total != 3 || r.Response != "rest" || r.Message != "tired" {
			t.Fatalf("unexpected reply %+v", r)
		}
	}
	calls := inf.calls

	if _, err := svc.GuestChat(ctx, "1.2.3.4", "again"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if inf.calls != calls {
		t.Fatalf("inference called over quota")
	}
	if n, _ := guests.GetGuestUsage(ctx, "1.2.3.4", "2024-01-01"); n != 3 {
		t.Fatalf("usage = %d, rejected turn must not be counted", n)
	}

	q, _ := svc.GuestUsage(ctx, "1.2.3.4")
	if q.Remaining != 0 || q.CanUse {
		t.Fatalf("unexpected quota %+v", q)
	}
	q, _ = svc.GuestUsage(ctx, "5.6.7.8")
	if q.Remaining != 3 || !q.CanUse || q.Total != 3 {
		t.Fatalf("unexpected quota for fresh ip %+v", q)
	}
}

func TestTitleFrom(t *testing.T) {
	cases := map[string]string{
		"":                                   "",
		"short":                              "short",
		strings.Repeat("a", 30):              strings.Repeat("a", 30),
		strings.Repeat("a", 31):              strings.Repeat("a", 30) + "...",
		"Hello, I have a bad headache today": "Hello, I have a bad headache t...",
	}
	for in, want := range cases {
		if got := titleFrom(in); got != want {
			t.Errorf("titleFrom(%q) = %q, want %q", in, got, want)
		}
	}
}
