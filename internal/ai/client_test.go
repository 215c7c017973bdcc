package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type recordingProvider struct {
	last      []Message
	maxTokens int
	reply     string
	err       error
}

func (p *recordingProvider) Chat(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	_ = ctx
	p.last = append([]Message(nil), messages...)
	p.maxTokens = maxTokens
	return p.reply, p.err
}

func TestInvoke_TextGoesToProvider(t *testing.T) {
	prov := &recordingProvider{reply: "drink water"}
	c := NewClient(nil, prov, "OpenRouter", nil)

	r, err := c.Invoke(context.Background(), Request{Text: "headache?", MaxTokens: 500})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if r.Text != "drink water" || r.Model != "OpenRouter" {
		t.Fatalf("unexpected reply %+v", r)
	}
	if len(prov.last) != 2 || prov.last[0].Role != "system" || prov.last[1].Content != "headache?" {
		t.Fatalf("unexpected provider input %+v", prov.last)
	}
	if prov.maxTokens != 500 {
		t.Fatalf("max tokens = %d", prov.maxTokens)
	}
}

func TestInvoke_NoBackendGivesDemoReply(t *testing.T) {
	r, err := NewClient(nil, nil, "", nil).Invoke(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if r.Model != ModelMock || !strings.Contains(r.Text, "'hi'") {
		t.Fatalf("unexpected reply %+v", r)
	}
}

func TestInvoke_ProviderFailureGivesApology(t *testing.T) {
	prov := &recordingProvider{err: &APIError{Provider: "openrouter", Status: 401}}
	r, err := NewClient(nil, prov, "x", nil).Invoke(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if r.Model != ModelMock || r.Text != apologyText {
		t.Fatalf("unexpected reply %+v", r)
	}
}

func TestInvoke_CancelledContextPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prov := &recordingProvider{err: context.Canceled}
	if _, err := NewClient(nil, prov, "x", nil).Invoke(ctx, Request{Text: "hi"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestInvoke_ImageGoesToMedicalAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		img, _ := io.ReadAll(f)
		if string(img) != "PNGDATA" || hdr.Filename != "scan.png" {
			t.Errorf("unexpected image %q %q", img, hdr.Filename)
		}
		if r.FormValue("text") != "what is this?" || r.FormValue("max_new_tokens") != "500" {
			t.Errorf("unexpected fields text=%q max=%q", r.FormValue("text"), r.FormValue("max_new_tokens"))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "looks fine", "model": "MedGemma"})
	}))
	defer srv.Close()

	text := &recordingProvider{reply: "should not be used"}
	c := NewClient(NewMedicalProvider(srv.URL, "k", time.Second), text, "x", nil)
	r, err := c.Invoke(context.Background(), Request{
		Text: "what is this?", Image: []byte("PNGDATA"), ImageName: "scan.png", MaxTokens: 500,
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if r.Text != "looks fine" || r.Model != "MedGemma" {
		t.Fatalf("unexpected reply %+v", r)
	}
	if text.last != nil {
		t.Fatalf("text provider should not be called for image requests")
	}
}

func TestInvoke_MedicalServerErrorGivesApology(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(NewMedicalProvider(srv.URL, "k", time.Second), nil, "", nil)
	r, err := c.Invoke(context.Background(), Request{Text: "x", Image: []byte{1}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if r.Model != ModelMock || r.Text != apologyText {
		t.Fatalf("unexpected reply %+v", r)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.DeadlineExceeded, true},
		{&APIError{Status: 503}, true},
		{&APIError{Status: 429}, true},
		{&APIError{Status: 400}, false},
		{errors.New("bad json"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestOpenRouterProvider_SendsMaxTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		var body openRouterChatReq
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.MaxTokens != 77 || len(body.Messages) != 1 {
			t.Errorf("unexpected body %+v", body)
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "key", "m", "", "")
	got, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, 77)
	if err != nil || got != "ok" {
		t.Fatalf("chat: %q %v", got, err)
	}
}

func TestOllamaProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "m").Chat(context.Background(), nil, 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected APIError 404, got %v", err)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry()
	reg.Register(" Ollama ", func(ctx context.Context, model string) (Provider, error) {
		return NewOllamaProvider("", model), nil
	})
	if _, err := reg.Get(context.Background(), "ollama", ""); err != nil {
		t.Fatalf("get ollama: %v", err)
	}
	if _, err := reg.Get(context.Background(), "gemini", ""); err == nil {
		t.Fatalf("expected unknown provider error")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "ollama" {
		t.Fatalf("names = %v", names)
	}
}
