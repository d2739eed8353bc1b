// Package push delivers best-effort notifications to the channel owner.
package push

import (
	"context"
	"errors"
	"fmt"
)

// Pusher sends one notification with a title and a body.
type Pusher interface {
	Push(ctx context.Context, title, body string) error
}

// Multi fans a notification out to every backend. Every backend is tried;
// the joined error names the ones that failed.
type Multi []Pusher

func (m Multi) Push(ctx context.Context, title, body string) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Push(ctx, title, body); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Push(context.Context, string, string) error { return nil }
