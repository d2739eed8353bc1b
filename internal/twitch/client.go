package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"unfollowbot/internal/model"
	logx "unfollowbot/pkg/logx"
)

const (
	DefaultAPIBaseURL      = "https://api.twitch.tv/helix"
	DefaultLanguageBaseURL = "https://api.twitch.tv/kraken"

	defaultRequestsPerMinute = 800
	defaultRateLimitFallback = 60 * time.Second
	defaultHTTPTimeout       = 15 * time.Second
	pageSize                 = 100
)

// Config configures the API client. Zero values fall back to defaults.
type Config struct {
	ClientID string
	// AppToken is sent as a bearer token when set.
	AppToken string

	APIBaseURL      string
	LanguageBaseURL string

	// RequestsPerMinute paces requests client-side, before the API has to
	// answer with 429.
	RequestsPerMinute int
	// RateLimitFallback is used when a 429 carries no usable reset header.
	RateLimitFallback time.Duration
	HTTPTimeout       time.Duration
}

// Client fetches follower lists and account languages.
//
// Rate-limited requests are retried without bound (same cursor); any other
// failure ends the pagination loop and the pages collected so far are returned.
type Client struct {
	cfg     Config
	http    *http.Client
	log     logx.Logger
	limiter *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClock replaces the wall clock and the sleep used for rate-limit waits.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("twitch client id is empty")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.LanguageBaseURL == "" {
		cfg.LanguageBaseURL = DefaultLanguageBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.LanguageBaseURL = strings.TrimRight(cfg.LanguageBaseURL, "/")
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.RateLimitFallback <= 0 {
		cfg.RateLimitFallback = defaultRateLimitFallback
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	perSec := rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
		limiter: rate.NewLimiter(perSec, max(1, cfg.RequestsPerMinute/60)),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// FetchFollowers returns every follower of channelID, following cursors until
// a page carries none. The result is best-effort: a failed page ends the loop
// and the followers collected so far are returned without an error. The only
// error returned is a context error.
func (c *Client) FetchFollowers(ctx context.Context, channelID string) ([]model.Follower, error) {
	c.log.Debug("fetching followers", logx.String("channel_id", channelID))

	q := url.Values{}
	q.Set("to_id", channelID)
	q.Set("first", strconv.Itoa(pageSize))

	var out []model.Follower
	pages := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return out, err
		}
		page, err := c.fetchPage(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			var rl *RateLimitError
			if errors.As(err, &rl) {
				c.log.Warn("hit the API rate limit",
					logx.Time("resume_at", rl.ResumeAt),
					logx.Bool("from_header", rl.FromHeader),
					logx.Int("pages", pages),
				)
				if err := c.sleepUntil(ctx, rl.ResumeAt); err != nil {
					return out, err
				}
				continue
			}
			c.log.Error("could not fetch the followers",
				logx.Err(err),
				logx.Int("pages", pages),
				logx.Int("partial", len(out)),
			)
			return out, nil
		}

		pages++
		for _, e := range page.Data {
			out = append(out, model.Follower{ID: e.FromID, Name: e.FromName})
		}

		cursor := page.cursor()
		if cursor == "" {
			break
		}
		q.Set("after", cursor)
	}

	c.log.Debug("fetched followers", logx.Int("count", len(out)), logx.Int("pages", pages))
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, q url.Values) (followsPage, error) {
	var page followsPage
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+"/users/follows?"+q.Encode(), http.NoBody)
	if err != nil {
		return page, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return page, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return page, c.rateLimitError(resp.Header)
	}
	if resp.StatusCode/100 != 2 {
		return page, statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return page, fmt.Errorf("decode follows page: %w", err)
	}
	return page, nil
}

// rateLimitError builds the resume time from the Ratelimit-Reset header
// (unix seconds) or from the fallback window.
func (c *Client) rateLimitError(h http.Header) *RateLimitError {
	if raw := strings.TrimSpace(h.Get("Ratelimit-Reset")); raw != "" {
		if sec, err := strconv.ParseInt(raw, 10, 64); err == nil && sec > 0 {
			return &RateLimitError{ResumeAt: time.Unix(sec, 0), FromHeader: true}
		}
	}
	return &RateLimitError{ResumeAt: c.now().Add(c.cfg.RateLimitFallback)}
}

func (c *Client) sleepUntil(ctx context.Context, t time.Time) error {
	d := t.Sub(c.now())
	if d <= 0 {
		return ctx.Err()
	}
	return c.sleep(ctx, d)
}

// FetchLanguage looks up the broadcaster language of userID.
// 422 and 404 mean the account no longer exists.
func (c *Client) FetchLanguage(ctx context.Context, userID string) LanguageResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.LanguageBaseURL+"/channels/"+url.PathEscape(userID), http.NoBody)
	if err != nil {
		return LanguageResult{Status: LanguageUnknown, Err: err}
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/vnd.twitchtv.v5+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return LanguageResult{Status: LanguageUnknown, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return LanguageResult{Status: LanguageAccountGone}
	case resp.StatusCode/100 != 2:
		return LanguageResult{Status: LanguageUnknown, Err: statusError(resp)}
	}

	var body struct {
		Language *string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return LanguageResult{Status: LanguageUnknown, Err: fmt.Errorf("decode channel: %w", err)}
	}
	if body.Language == nil || strings.TrimSpace(*body.Language) == "" {
		return LanguageResult{Status: LanguageUnknown}
	}
	return LanguageResult{Status: LanguageFound, Language: *body.Language}
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Client-ID", c.cfg.ClientID)
	if tok := strings.TrimSpace(c.cfg.AppToken); tok != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimPrefix(tok, "oauth:"))
	}
}

func statusError(resp *http.Response) *StatusError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
