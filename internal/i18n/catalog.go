// Package i18n holds the per-language unfollow message templates.
//
// The templates file is a JSON object mapping a language code to a template.
// The "default" entry is required and is used for every language without
// its own template. %username% is replaced with the recipient's name.
package i18n

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"unfollowbot/internal/config"
	logx "unfollowbot/pkg/logx"
)

const (
	DefaultKey  = "default"
	Placeholder = "%username%"
)

var ErrNoDefault = errors.New("i18n: templates have no \"default\" entry")

type Catalog struct {
	path string
	log  logx.Logger

	mu        sync.RWMutex
	templates map[string]string
}

// Load reads the templates file at path.
func Load(path string, log logx.Logger) (*Catalog, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Catalog{path: path, log: log}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromMap builds a catalog without a backing file.
func FromMap(templates map[string]string) (*Catalog, error) {
	norm, err := normalize(templates)
	if err != nil {
		return nil, err
	}
	return &Catalog{log: logx.Nop(), templates: norm}, nil
}

// Reload reads the file again. A file that cannot be parsed or has no
// default template is rejected and the current templates are kept.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	b, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read templates: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse templates %s: %w", c.path, err)
	}
	norm, err := normalize(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", c.path, err)
	}

	c.mu.Lock()
	c.templates = norm
	c.mu.Unlock()
	c.log.Debug("message templates loaded", logx.String("path", c.path), logx.Int("languages", len(norm)))
	return nil
}

func normalize(in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	if _, ok := out[DefaultKey]; !ok {
		return nil, ErrNoDefault
	}
	return out, nil
}

// Template returns the template for lang, or the default template.
func (c *Catalog) Template(lang string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.templates[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return t
	}
	return c.templates[DefaultKey]
}

// Message renders the template for lang for username.
func (c *Catalog) Message(lang, username string) string {
	return Render(c.Template(lang), username)
}

// Render replaces every %username% in tmpl.
func Render(tmpl, username string) string {
	return strings.ReplaceAll(tmpl, Placeholder, username)
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}
	return config.WatchFile(ctx, c.path, c.log, func() {
		if err := c.Reload(); err != nil {
			c.log.Warn("message templates rejected; keeping previous", logx.Err(err))
			return
		}
		c.log.Info("message templates reloaded", logx.String("path", c.path))
	})
}
