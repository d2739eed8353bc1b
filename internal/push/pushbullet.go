package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultPushbulletURL = "https://api.pushbullet.com/v2/pushes"

type PushbulletConfig struct {
	Token string
	// URL overrides the pushes endpoint.
	URL     string
	Timeout time.Duration
}

// Pushbullet creates "note" pushes on the account owning the token.
type Pushbullet struct {
	cfg  PushbulletConfig
	http *http.Client
}

func NewPushbullet(cfg PushbulletConfig) (*Pushbullet, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("pushbullet token is empty")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultPushbulletURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Pushbullet{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

type pushbulletNote struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (p *Pushbullet) Push(ctx context.Context, title, body string) error {
	b, err := json.Marshal(pushbulletNote{Type: "note", Title: title, Body: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Access-Token", p.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushbullet: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
