package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"unfollowbot/internal/model"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	cancel bool
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slept = append(f.slept, d)
	f.now = f.now.Add(d)
	if f.cancel {
		return context.Canceled
	}
	return nil
}

func writePage(t *testing.T, w http.ResponseWriter, ids []string, cursor string) {
	t.Helper()
	page := map[string]any{}
	data := make([]FollowEntry, 0, len(ids))
	for _, id := range ids {
		data = append(data, FollowEntry{FromID: id, FromName: "user" + id, ToID: "42", ToName: "chan"})
	}
	page["data"] = data
	if cursor != "" {
		page["pagination"] = map[string]string{"cursor": cursor}
	} else {
		page["pagination"] = map[string]string{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(page); err != nil {
		t.Errorf("encode page: %v", err)
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, clk *fakeClock) *Client {
	t.Helper()
	opts := []Option{WithHTTPClient(srv.Client())}
	if clk != nil {
		opts = append(opts, WithClock(clk.Now, clk.Sleep))
	}
	c, err := New(Config{
		ClientID:          "cid",
		APIBaseURL:        srv.URL,
		LanguageBaseURL:   srv.URL + "/kraken",
		RequestsPerMinute: 6000,
	}, nopLogger(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestFetchFollowersConcatenatesPages(t *testing.T) {
	var (
		mu      sync.Mutex
		cursors []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/follows" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Client-ID"); got != "cid" {
			t.Errorf("Client-ID = %q, want cid", got)
		}
		if got := r.URL.Query().Get("to_id"); got != "42" {
			t.Errorf("to_id = %q, want 42", got)
		}
		after := r.URL.Query().Get("after")
		mu.Lock()
		cursors = append(cursors, after)
		mu.Unlock()
		switch after {
		case "":
			writePage(t, w, []string{"1", "2"}, "c1")
		case "c1":
			writePage(t, w, []string{"3"}, "c2")
		case "c2":
			writePage(t, w, []string{"4", "5"}, "")
		default:
			t.Errorf("unexpected cursor %q", after)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	got, err := c.FetchFollowers(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchFollowers: %v", err)
	}
	want := []string{"1", "2", "3", "4", "5"}
	if ids := model.IDs(got); !equalStrings(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	if got[0].Name != "user1" {
		t.Fatalf("name = %q, want user1", got[0].Name)
	}
	if !equalStrings(cursors, []string{"", "c1", "c2"}) {
		t.Fatalf("cursors = %v", cursors)
	}
}

func TestFetchFollowersRetriesSamePageAfterRateLimit(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	reset := clk.now.Add(30 * time.Second).Unix()

	var (
		mu      sync.Mutex
		limited bool
		cursors []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		mu.Lock()
		cursors = append(cursors, after)
		first429 := after == "c1" && !limited
		if first429 {
			limited = true
		}
		mu.Unlock()

		if first429 {
			w.Header().Set("Ratelimit-Reset", strconv.FormatInt(reset, 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		switch after {
		case "":
			writePage(t, w, []string{"1"}, "c1")
		case "c1":
			writePage(t, w, []string{"2"}, "")
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, clk)
	got, err := c.FetchFollowers(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchFollowers: %v", err)
	}
	if ids := model.IDs(got); !equalStrings(ids, []string{"1", "2"}) {
		t.Fatalf("ids = %v", ids)
	}
	if !equalStrings(cursors, []string{"", "c1", "c1"}) {
		t.Fatalf("cursors = %v, want same page retried", cursors)
	}
	if len(clk.slept) != 1 || clk.slept[0] != 30*time.Second {
		t.Fatalf("slept = %v, want [30s]", clk.slept)
	}
}

func TestFetchFollowersRateLimitWithoutHeaderUsesFallback(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writePage(t, w, []string{"1"}, "")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, clk)
	got, err := c.FetchFollowers(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchFollowers: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if len(clk.slept) != 1 || clk.slept[0] != defaultRateLimitFallback {
		t.Fatalf("slept = %v, want [%v]", clk.slept, defaultRateLimitFallback)
	}
}

func TestFetchFollowersReturnsPartialOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("after") {
		case "":
			writePage(t, w, []string{"1", "2"}, "c1")
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	got, err := c.FetchFollowers(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchFollowers: %v", err)
	}
	if ids := model.IDs(got); !equalStrings(ids, []string{"1", "2"}) {
		t.Fatalf("ids = %v, want partial [1 2]", ids)
	}
}

func TestFetchFollowersMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	got, err := c.FetchFollowers(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchFollowers: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestFetchFollowersCancelledDuringRateLimitWait(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0), cancel: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, clk)
	if _, err := c.FetchFollowers(context.Background(), "42"); err == nil {
		t.Fatal("expected context error")
	}
}

func TestFetchLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kraken/channels/de":
			_, _ = w.Write([]byte(`{"language":"de"}`))
		case "/kraken/channels/gone":
			w.WriteHeader(http.StatusUnprocessableEntity)
		case "/kraken/channels/nolang":
			_, _ = w.Write([]byte(`{"language":null}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	tests := []struct {
		id     string
		status LanguageStatus
		lang   string
	}{
		{id: "de", status: LanguageFound, lang: "de"},
		{id: "gone", status: LanguageAccountGone},
		{id: "nolang", status: LanguageUnknown},
		{id: "broken", status: LanguageUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := c.FetchLanguage(context.Background(), tt.id)
			if got.Status != tt.status {
				t.Fatalf("Status = %v, want %v", got.Status, tt.status)
			}
			if got.Language != tt.lang {
				t.Fatalf("Language = %q, want %q", got.Language, tt.lang)
			}
		})
	}
}

func TestNewRequiresClientID(t *testing.T) {
	if _, err := New(Config{}, nopLogger()); err == nil {
		t.Fatal("expected error for empty client id")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
