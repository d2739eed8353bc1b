// Package chat keeps a persistent chat session open and sends whispers over it.
//
// Transport owns the connection state machine:
//
//	Disconnected -> Connecting -> Connected
//
// An unsolicited drop moves Connected back to Disconnected and the drop
// handler reconnects in place, up to MaxTries attempts. The handler only
// returns once a reconnect succeeded or every attempt failed; in the latter
// case the transport ends up Failed and OnFatal is called.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logx "unfollowbot/pkg/logx"
)

var (
	ErrNotConnected       = errors.New("chat: not connected")
	ErrReconnectExhausted = errors.New("chat: reconnect attempts exhausted")
	ErrClosed             = errors.New("chat: transport closed")
)

const (
	DefaultMaxTries        = 3
	DefaultRetryDelay      = 2 * time.Second
	defaultWhisperDeadline = 10 * time.Second
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	// Failed is terminal: reconnects were exhausted.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is one live chat session.
type Conn interface {
	Whisper(ctx context.Context, user, text string) error
	// Done is closed when the session ended, for whatever reason.
	Done() <-chan struct{}
	// Err reports why the session ended. Only meaningful after Done.
	Err() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Conn, error)

func (f DialFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

type Options struct {
	// MaxTries bounds reconnect attempts after one drop. Zero means 3.
	MaxTries int
	// RetryDelay is waited before each reconnect attempt.
	RetryDelay time.Duration
	// OnFatal is called once, from the drop handler, when reconnects are
	// exhausted. It must not block; the app wires it to process termination.
	OnFatal func(error)
	// Sleep replaces the retry wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Transport struct {
	dialer Dialer
	log    logx.Logger
	opts   Options

	// life is cancelled by Close; reconnects run under it.
	life   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	conn    Conn
	retries int
	closed  bool
	wg      sync.WaitGroup
}

func New(d Dialer, log logx.Logger, opts Options) *Transport {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.MaxTries <= 0 {
		opts.MaxTries = DefaultMaxTries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.OnFatal == nil {
		opts.OnFatal = func(error) {}
	}
	life, cancel := context.WithCancel(context.Background())
	return &Transport{
		dialer: d,
		log:    log,
		opts:   opts,
		life:   life,
		cancel: cancel,
		state:  Disconnected,
	}
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Retries is the number of reconnect attempts made since the last
// successful connect.
func (t *Transport) Retries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries
}

// Connect opens the first session. A failure here is returned to the caller
// and does not consume reconnect attempts.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state == Connected || t.state == Connecting {
		t.mu.Unlock()
		return nil
	}
	t.state = Connecting
	t.mu.Unlock()

	t.log.Debug("connecting to chat")
	conn, err := t.dialer.Dial(ctx)
	if err != nil {
		t.setState(Disconnected)
		return fmt.Errorf("chat connect: %w", err)
	}
	if !t.adopt(conn) {
		_ = conn.Close()
		return ErrClosed
	}
	return nil
}

// adopt installs conn as the live session and starts watching it for drops.
func (t *Transport) adopt(conn Conn) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.conn = conn
	t.state = Connected
	t.retries = 0
	t.wg.Add(1)
	t.mu.Unlock()

	t.log.Info("connected to chat")
	go t.watch(conn)
	return true
}

func (t *Transport) watch(conn Conn) {
	defer t.wg.Done()
	select {
	case <-conn.Done():
	case <-t.life.Done():
		return
	}
	t.handleDrop(conn, conn.Err())
}

// handleDrop runs the reconnect loop for a session that ended without
// Close being called. It returns after a reconnect succeeded or the
// attempts ran out.
func (t *Transport) handleDrop(conn Conn, cause error) {
	t.mu.Lock()
	if t.closed || t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.state = Disconnected
	t.mu.Unlock()

	t.log.Warn("chat connection lost; reconnecting", logx.Err(cause))

	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		if t.retries >= t.opts.MaxTries {
			t.state = Failed
			tries := t.retries
			t.mu.Unlock()
			t.log.Error("could not reconnect to chat", logx.Int("tries", tries))
			t.opts.OnFatal(fmt.Errorf("%w after %d tries", ErrReconnectExhausted, tries))
			return
		}
		t.retries++
		attempt := t.retries
		t.mu.Unlock()

		if t.opts.RetryDelay > 0 {
			if err := t.opts.Sleep(t.life, t.opts.RetryDelay); err != nil {
				return
			}
		}

		t.setState(Connecting)
		next, err := t.dialer.Dial(t.life)
		if err != nil {
			t.log.Warn("chat reconnect failed", logx.Int("attempt", attempt), logx.Err(err))
			t.setState(Disconnected)
			continue
		}
		if !t.adopt(next) {
			_ = next.Close()
		}
		return
	}
}

// Whisper sends a direct message to user. It fails with ErrNotConnected
// unless the transport is Connected.
func (t *Transport) Whisper(ctx context.Context, user, text string) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()
	if state != Connected || conn == nil {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, state)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultWhisperDeadline)
		defer cancel()
	}
	if err := conn.Whisper(ctx, user, text); err != nil {
		return fmt.Errorf("whisper %s: %w", user, err)
	}
	return nil
}

// Close ends the session. A requested close never triggers a reconnect.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.state = Disconnected
	t.mu.Unlock()

	t.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	t.wg.Wait()
	t.log.Info("chat disconnected")
	return err
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	if !t.closed {
		t.state = s
	}
	t.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tm.C:
		return nil
	}
}
