package notify

import (
	"context"
	"errors"
	"testing"

	"unfollowbot/internal/i18n"
	"unfollowbot/internal/model"
	"unfollowbot/internal/twitch"
	logx "unfollowbot/pkg/logx"
)

type fakePusher struct {
	bodies []string
	err    error
}

func (p *fakePusher) Push(_ context.Context, title, body string) error {
	p.bodies = append(p.bodies, title+"|"+body)
	return p.err
}

type fakeLangs struct {
	res   map[string]twitch.LanguageResult
	calls int
}

func (l *fakeLangs) FetchLanguage(_ context.Context, id string) twitch.LanguageResult {
	l.calls++
	return l.res[id]
}

type fakeLedger struct{ messaged map[string]bool }

func (l *fakeLedger) WasMessaged(id string) bool { return l.messaged[id] }
func (l *fakeLedger) MarkMessaged(id string) bool {
	if l.messaged[id] {
		return false
	}
	l.messaged[id] = true
	return true
}

type fakeChat struct {
	sent []string
	err  error
}

func (c *fakeChat) Whisper(_ context.Context, user, text string) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, user+":"+text)
	return nil
}

type fixture struct {
	pusher *fakePusher
	langs  *fakeLangs
	ledger *fakeLedger
	chat   *fakeChat
	d      *Dispatcher
}

func newFixture(t *testing.T, messaging bool) *fixture {
	t.Helper()
	cat, err := i18n.FromMap(map[string]string{"default": "Bye %username%", "de": "Tschüss %username%"})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		pusher: &fakePusher{},
		langs: &fakeLangs{res: map[string]twitch.LanguageResult{
			"1": {Status: twitch.LanguageFound, Language: "de"},
			"2": {Status: twitch.LanguageAccountGone},
			"3": {Status: twitch.LanguageUnknown, Err: errors.New("timeout")},
			"4": {Status: twitch.LanguageFound, Language: "pt"},
		}},
		ledger: &fakeLedger{messaged: map[string]bool{}},
		chat:   &fakeChat{},
	}
	f.d = New(f.pusher, f.langs, f.ledger, f.chat, cat, logx.Nop(), Options{
		PushTitle:        "Unfollow",
		PushBody:         "%username% unfollowed",
		MessagingEnabled: messaging,
	})
	return f
}

func TestNotifyPushesAndWhispers(t *testing.T) {
	f := newFixture(t, true)
	out := f.d.Notify(context.Background(), model.Follower{ID: "1", Name: "hans"})
	if !out.Pushed || !out.Whispered || out.Skipped != "" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(f.pusher.bodies) != 1 || f.pusher.bodies[0] != "Unfollow|hans unfollowed" {
		t.Fatalf("push = %v", f.pusher.bodies)
	}
	if len(f.chat.sent) != 1 || f.chat.sent[0] != "hans:Tschüss hans" {
		t.Fatalf("whispers = %v", f.chat.sent)
	}
	if !f.ledger.messaged["1"] {
		t.Fatal("user not marked messaged")
	}
}

func TestNotifyFallsBackToDefaultTemplate(t *testing.T) {
	f := newFixture(t, true)
	f.d.Notify(context.Background(), model.Follower{ID: "4", Name: "ana"})
	if len(f.chat.sent) != 1 || f.chat.sent[0] != "ana:Bye ana" {
		t.Fatalf("whispers = %v", f.chat.sent)
	}
}

func TestNotifySkips(t *testing.T) {
	tests := []struct {
		name       string
		messaging  bool
		follower   model.Follower
		premessage bool
		skip       string
		marked     bool
		lookups    int
	}{
		{name: "messaging disabled", follower: model.Follower{ID: "1", Name: "a"}, skip: SkipDisabled},
		{name: "already messaged", messaging: true, premessage: true, follower: model.Follower{ID: "1", Name: "a"}, skip: SkipMessaged, marked: true},
		{name: "account gone", messaging: true, follower: model.Follower{ID: "2", Name: "b"}, skip: SkipAccountGone, lookups: 1},
		{name: "language unknown", messaging: true, follower: model.Follower{ID: "3", Name: "c"}, skip: SkipUnknownLang, lookups: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.messaging)
			if tt.premessage {
				f.ledger.messaged[tt.follower.ID] = true
			}
			out := f.d.Notify(context.Background(), tt.follower)
			if out.Skipped != tt.skip {
				t.Fatalf("skipped = %q, want %q", out.Skipped, tt.skip)
			}
			if !out.Pushed || len(f.pusher.bodies) != 1 {
				t.Fatal("push must always be attempted")
			}
			if len(f.chat.sent) != 0 {
				t.Fatalf("unexpected whisper %v", f.chat.sent)
			}
			if f.ledger.messaged[tt.follower.ID] != tt.marked {
				t.Fatalf("messaged = %v, want %v", f.ledger.messaged[tt.follower.ID], tt.marked)
			}
			if f.langs.calls != tt.lookups {
				t.Fatalf("language lookups = %d, want %d", f.langs.calls, tt.lookups)
			}
		})
	}
}

func TestPushFailureDoesNotStopWhisper(t *testing.T) {
	f := newFixture(t, true)
	f.pusher.err = errors.New("pushbullet down")
	out := f.d.Notify(context.Background(), model.Follower{ID: "1", Name: "hans"})
	if out.Pushed || out.PushErr == nil {
		t.Fatalf("outcome = %+v", out)
	}
	if !out.Whispered {
		t.Fatal("whisper must still be sent")
	}
}

func TestFailedWhisperStaysMarked(t *testing.T) {
	f := newFixture(t, true)
	f.chat.err = errors.New("not connected")
	out := f.d.Notify(context.Background(), model.Follower{ID: "1", Name: "hans"})
	if out.Whispered || out.WhisperErr == nil {
		t.Fatalf("outcome = %+v", out)
	}
	if !f.ledger.messaged["1"] {
		t.Fatal("user must be marked before the send is attempted")
	}
}

func TestNoChatSkipsMessaging(t *testing.T) {
	cat, _ := i18n.FromMap(map[string]string{"default": "x"})
	langs := &fakeLangs{}
	d := New(&fakePusher{}, langs, &fakeLedger{messaged: map[string]bool{}}, nil, cat, logx.Nop(), Options{MessagingEnabled: true})
	if out := d.Notify(context.Background(), model.Follower{ID: "1"}); out.Skipped != SkipNoChat {
		t.Fatalf("skipped = %q", out.Skipped)
	}
	if langs.calls != 0 {
		t.Fatal("language looked up without chat")
	}
}

func TestSetMessagingEnabled(t *testing.T) {
	f := newFixture(t, false)
	f.d.SetMessagingEnabled(true)
	if out := f.d.Notify(context.Background(), model.Follower{ID: "1", Name: "hans"}); !out.Whispered {
		t.Fatalf("outcome = %+v", out)
	}
	f.d.SetPushFormat("T", "gone: %username%")
	f.d.Notify(context.Background(), model.Follower{ID: "4", Name: "ana"})
	if got := f.pusher.bodies[len(f.pusher.bodies)-1]; got != "T|gone: ana" {
		t.Fatalf("push = %q", got)
	}
}
