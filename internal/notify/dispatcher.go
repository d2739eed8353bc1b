// Package notify tells the channel owner about a confirmed unfollow and,
// when enabled, whispers the former follower once.
package notify

import (
	"context"
	"sync"

	"unfollowbot/internal/i18n"
	"unfollowbot/internal/model"
	"unfollowbot/internal/push"
	"unfollowbot/internal/twitch"
	logx "unfollowbot/pkg/logx"
)

type LanguageSource interface {
	FetchLanguage(ctx context.Context, userID string) twitch.LanguageResult
}

// Ledger is the dedup record of messaged users.
type Ledger interface {
	WasMessaged(id string) bool
	MarkMessaged(id string) bool
}

type Whisperer interface {
	Whisper(ctx context.Context, user, text string) error
}

type Templates interface {
	Message(lang, username string) string
}

type Options struct {
	PushTitle        string
	PushBody         string
	MessagingEnabled bool
}

// Outcome records what Notify did for one follower.
type Outcome struct {
	Pushed   bool
	PushErr  error
	Language twitch.LanguageStatus
	// Whispered is true when the chat transport accepted the message.
	Whispered  bool
	WhisperErr error
	// Skipped names why no whisper was attempted, if none was.
	Skipped string
}

const (
	SkipDisabled    = "messaging_disabled"
	SkipNoChat      = "no_chat"
	SkipMessaged    = "already_messaged"
	SkipAccountGone = "account_gone"
	SkipUnknownLang = "language_unknown"
)

type Dispatcher struct {
	pusher    push.Pusher
	langs     LanguageSource
	ledger    Ledger
	chat      Whisperer
	templates Templates
	log       logx.Logger

	mu   sync.RWMutex
	opts Options
}

// New wires a dispatcher. chat may be nil when chat is disabled; messaging
// is then skipped.
func New(p push.Pusher, langs LanguageSource, ledger Ledger, chat Whisperer, templates Templates, log logx.Logger, opts Options) *Dispatcher {
	if p == nil {
		p = push.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		pusher:    p,
		langs:     langs,
		ledger:    ledger,
		chat:      chat,
		templates: templates,
		log:       log,
		opts:      opts,
	}
}

func (d *Dispatcher) SetMessagingEnabled(on bool) {
	d.mu.Lock()
	d.opts.MessagingEnabled = on
	d.mu.Unlock()
}

func (d *Dispatcher) SetPushFormat(title, body string) {
	d.mu.Lock()
	d.opts.PushTitle, d.opts.PushBody = title, body
	d.mu.Unlock()
}

func (d *Dispatcher) options() Options {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

// Notify pushes the unfollow notification, then whispers f unless
// messaging is off or f was messaged before. Failures are logged and
// reported in the Outcome; Notify never fails the caller.
//
// The user is marked messaged before the whisper is sent, so a failed send
// is not retried.
func (d *Dispatcher) Notify(ctx context.Context, f model.Follower) Outcome {
	opts := d.options()
	log := d.log.With(logx.String("user_id", f.ID), logx.String("user", f.Name))
	var out Outcome

	if err := d.pusher.Push(ctx, opts.PushTitle, i18n.Render(opts.PushBody, f.Name)); err != nil {
		out.PushErr = err
		log.Warn("push notification failed", logx.Err(err))
	} else {
		out.Pushed = true
	}

	switch {
	case !opts.MessagingEnabled:
		out.Skipped = SkipDisabled
		return out
	case d.chat == nil:
		out.Skipped = SkipNoChat
		log.Warn("messaging enabled but chat is not configured")
		return out
	case d.ledger.WasMessaged(f.ID):
		out.Skipped = SkipMessaged
		log.Debug("user was already messaged")
		return out
	}

	res := d.langs.FetchLanguage(ctx, f.ID)
	out.Language = res.Status
	switch res.Status {
	case twitch.LanguageAccountGone:
		out.Skipped = SkipAccountGone
		log.Info("account no longer exists; not messaging")
		return out
	case twitch.LanguageUnknown:
		out.Skipped = SkipUnknownLang
		log.Error("could not resolve user language; not messaging", logx.Err(res.Err))
		return out
	}

	text := d.templates.Message(res.Language, f.Name)
	d.ledger.MarkMessaged(f.ID)
	if err := d.chat.Whisper(ctx, f.Name, text); err != nil {
		out.WhisperErr = err
		log.Error("whisper failed", logx.Err(err))
		return out
	}
	out.Whispered = true
	log.Info("messaged user", logx.String("language", res.Language))
	return out
}
