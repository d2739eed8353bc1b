package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	logx "unfollowbot/pkg/logx"
)

const (
	DefaultIRCURL = "wss://irc-ws.chat.twitch.tv:443"

	ircWriteWait    = 10 * time.Second
	ircLoginTimeout = 15 * time.Second
	ircMaxMessage   = 64 << 10
)

var ErrLoginFailed = errors.New("chat: login failed")

// IRCConfig describes the Twitch chat login.
type IRCConfig struct {
	URL      string
	Username string
	// Token is the chat oauth token, with or without the "oauth:" prefix.
	Token   string
	Channel string
}

// IRCDialer opens Twitch IRC sessions over WebSocket.
type IRCDialer struct {
	cfg    IRCConfig
	log    logx.Logger
	dialer *websocket.Dialer
}

func NewIRCDialer(cfg IRCConfig, log logx.Logger) *IRCDialer {
	if cfg.URL == "" {
		cfg.URL = DefaultIRCURL
	}
	if cfg.Channel == "" {
		cfg.Channel = cfg.Username
	}
	cfg.Username = strings.ToLower(strings.TrimSpace(cfg.Username))
	cfg.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "#"))
	if log.IsZero() {
		log = logx.Nop()
	}
	return &IRCDialer{
		cfg: cfg,
		log: log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: ircLoginTimeout,
		},
	}
}

// Dial connects, logs in, joins the channel and waits for the server welcome.
func (d *IRCDialer) Dial(ctx context.Context) (Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, d.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.cfg.URL, err)
	}
	ws.SetReadLimit(ircMaxMessage)

	c := &ircConn{
		ws:      ws,
		log:     d.log,
		channel: d.cfg.Channel,
		done:    make(chan struct{}),
	}

	token := strings.TrimSpace(d.cfg.Token)
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	for _, line := range []string{
		"PASS " + token,
		"NICK " + d.cfg.Username,
		"JOIN #" + d.cfg.Channel,
	} {
		if err := c.writeLine(line); err != nil {
			_ = ws.Close()
			return nil, err
		}
	}

	if err := c.awaitWelcome(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

type ircConn struct {
	ws      *websocket.Conn
	log     logx.Logger
	channel string

	wmu sync.Mutex

	once   sync.Once
	done   chan struct{}
	errMu  sync.Mutex
	err    error
	closed bool
}

// awaitWelcome reads until RPL_WELCOME (001) or a login failure notice.
func (c *ircConn) awaitWelcome(ctx context.Context) error {
	deadline := time.Now().Add(ircLoginTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.ws.SetReadDeadline(deadline)
	defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("chat login: %w", err)
		}
		for _, line := range splitLines(string(data)) {
			msg := parseLine(line)
			switch msg.command {
			case "001":
				return nil
			case "PING":
				if err := c.writeLine("PONG :" + msg.trailing); err != nil {
					return err
				}
			case "NOTICE":
				if strings.Contains(strings.ToLower(msg.trailing), "authentication failed") ||
					strings.Contains(strings.ToLower(msg.trailing), "improperly formatted auth") {
					return fmt.Errorf("%w: %s", ErrLoginFailed, msg.trailing)
				}
			}
		}
	}
}

func (c *ircConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		for _, line := range splitLines(string(data)) {
			msg := parseLine(line)
			switch msg.command {
			case "PING":
				if err := c.writeLine("PONG :" + msg.trailing); err != nil {
					c.finish(err)
					return
				}
			case "RECONNECT":
				c.finish(errors.New("server requested reconnect"))
				_ = c.ws.Close()
				return
			case "NOTICE":
				c.log.Debug("chat notice", logx.String("text", msg.trailing))
			}
		}
	}
}

func (c *ircConn) finish(err error) {
	c.once.Do(func() {
		c.errMu.Lock()
		if c.closed {
			err = nil
		}
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *ircConn) Done() <-chan struct{} { return c.done }

func (c *ircConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Whisper sends text as a direct message through the joined channel.
func (c *ircConn) Whisper(ctx context.Context, user, text string) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	user = strings.TrimPrefix(strings.TrimSpace(user), "@")
	if user == "" {
		return errors.New("empty recipient")
	}
	line := fmt.Sprintf("PRIVMSG #%s :/w %s %s", c.channel, user, sanitize(text))
	return c.writeLineCtx(ctx, line)
}

func (c *ircConn) Close() error {
	c.errMu.Lock()
	c.closed = true
	c.errMu.Unlock()

	c.wmu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()

	err := c.ws.Close()
	c.finish(nil)
	return err
}

func (c *ircConn) writeLine(line string) error {
	return c.writeLineCtx(context.Background(), line)
}

func (c *ircConn) writeLineCtx(ctx context.Context, line string) error {
	deadline := time.Now().Add(ircWriteWait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
}

type ircMessage struct {
	command  string
	params   []string
	trailing string
}

// parseLine splits a raw IRC line. Tags and prefix are dropped.
func parseLine(line string) ircMessage {
	var m ircMessage
	if strings.HasPrefix(line, "@") {
		if i := strings.IndexByte(line, ' '); i >= 0 {
			line = line[i+1:]
		} else {
			return m
		}
	}
	if strings.HasPrefix(line, ":") {
		if i := strings.IndexByte(line, ' '); i >= 0 {
			line = line[i+1:]
		} else {
			return m
		}
	}
	if i := strings.Index(line, " :"); i >= 0 {
		m.trailing = line[i+2:]
		line = line[:i]
	} else if strings.HasPrefix(line, ":") {
		m.trailing = line[1:]
		line = ""
	}
	fields := strings.Fields(line)
	if len(fields) > 0 {
		m.command = strings.ToUpper(fields[0])
		m.params = fields[1:]
	}
	return m
}

func splitLines(s string) []string {
	raw := strings.Split(s, "\n")
	out := raw[:0]
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// sanitize keeps a message on one IRC line.
func sanitize(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
