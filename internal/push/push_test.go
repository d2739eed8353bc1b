package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestPushbulletSendsNote(t *testing.T) {
	var got pushbulletNote
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		token = r.Header.Get("Access-Token")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"active":true}`)
	}))
	defer srv.Close()

	p, err := NewPushbullet(PushbulletConfig{Token: "tok", URL: srv.URL})
	if err != nil {
		t.Fatalf("NewPushbullet: %v", err)
	}
	if err := p.Push(context.Background(), "Twitch Unfollow Notifier", "bob unfollowed you"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if token != "tok" {
		t.Fatalf("Access-Token = %q", token)
	}
	if got.Type != "note" || got.Title != "Twitch Unfollow Notifier" || got.Body != "bob unfollowed you" {
		t.Fatalf("note = %+v", got)
	}
}

func TestPushbulletStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := NewPushbullet(PushbulletConfig{Token: "bad", URL: srv.URL})
	if err != nil {
		t.Fatalf("NewPushbullet: %v", err)
	}
	err = p.Push(context.Background(), "t", "b")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Push err = %v, want status 401", err)
	}
}

func TestNewPushbulletRequiresToken(t *testing.T) {
	if _, err := NewPushbullet(PushbulletConfig{Token: "  "}); err == nil {
		t.Fatal("expected error")
	}
}

type recordingPusher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingPusher) Push(_ context.Context, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, title+"|"+body)
	return r.err
}

func TestMultiTriesEveryBackend(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingPusher{err: boom}
	b := &recordingPusher{}
	err := Multi{a, nil, b}.Push(context.Background(), "t", "b")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(a.calls) != 1 || len(b.calls) != 1 {
		t.Fatalf("calls a=%v b=%v", a.calls, b.calls)
	}
	if err := (Multi{b}).Push(context.Background(), "t", "b"); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestTelegramPushSendsMessage(t *testing.T) {
	var path string
	var form map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &form)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", ChatID: 42, APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tg.Push(context.Background(), "Title", "bob unfollowed you"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if path != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q", path)
	}
	if text, _ := form["text"].(string); text != "Title\n\nbob unfollowed you" {
		t.Fatalf("text = %q", form["text"])
	}
}

func TestNewTelegramValidates(t *testing.T) {
	if _, err := NewTelegram(TelegramConfig{ChatID: 1}); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "1:a"}); err == nil {
		t.Fatal("expected error for empty chat id")
	}
}

func TestSplitText(t *testing.T) {
	short := "hello"
	if got := splitText(short, 10); len(got) != 1 || got[0] != short {
		t.Fatalf("splitText(short) = %v", got)
	}

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(long, 8)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("splitText(long) = %q", got)
	}
	for _, c := range splitText(strings.Repeat("x", 25), 10) {
		if len([]rune(c)) > 10 {
			t.Fatalf("chunk too long: %d", len(c))
		}
	}
}
