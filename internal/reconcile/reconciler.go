// Package reconcile runs one poll of the follower list against the ledger:
// fetch, diff, notify, merge, flush.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"unfollowbot/internal/detector"
	"unfollowbot/internal/eventbus"
	"unfollowbot/internal/ledger"
	"unfollowbot/internal/model"
	"unfollowbot/internal/notify"
	logx "unfollowbot/pkg/logx"
)

type FollowerSource interface {
	FetchFollowers(ctx context.Context, channelID string) ([]model.Follower, error)
}

type Notifier interface {
	Notify(ctx context.Context, f model.Follower) notify.Outcome
}

type Reconciler struct {
	channelID string
	src       FollowerSource
	det       *detector.Detector
	ledger    *ledger.Ledger
	notifier  Notifier
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	// mu keeps ticks from overlapping; the ledger and the detector are only
	// mutated while it is held.
	mu sync.Mutex
}

// New wires a reconciler. bus may be nil.
func New(channelID string, src FollowerSource, det *detector.Detector, l *ledger.Ledger, n Notifier, bus eventbus.Bus, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{
		channelID: channelID,
		src:       src,
		det:       det,
		ledger:    l,
		notifier:  n,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// Tick runs one reconciliation. Only a cancelled fetch or a failed flush is
// returned as an error; a cancelled fetch leaves the ledger and counters
// untouched, and a failed flush leaves the ledger dirty for the next tick.
func (r *Reconciler) Tick(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := r.now()

	current, err := r.src.FetchFollowers(ctx, r.channelID)
	if err != nil {
		return fmt.Errorf("fetch followers: %w", err)
	}

	r.log.Info("checking for unfollows", logx.Int("fetched", len(current)), logx.Int("known", r.ledger.Len()))
	res := r.det.Diff(current, r.ledger.Followers())

	for _, f := range res.Unfollowed {
		r.log.Info("user unfollowed", logx.String("user", f.Name), logx.String("user_id", f.ID))
		r.notifier.Notify(ctx, f)
		r.ledger.Remove(f.ID)
		r.publish(eventbus.Event{Type: eventbus.Unfollowed, Follower: f})
	}
	for _, f := range res.Followed {
		if r.ledger.Add(f) {
			r.log.Info("user follows now", logx.String("user", f.Name), logx.String("user_id", f.ID))
			r.publish(eventbus.Event{Type: eventbus.Followed, Follower: f})
		}
	}

	suspects := len(r.det.Suspects())
	r.log.Info("checked for unfollows",
		logx.Int("unfollowed", len(res.Unfollowed)),
		logx.Int("followed", len(res.Followed)),
		logx.Int("suspects", suspects),
		logx.Int("threshold", r.det.Threshold()),
	)

	flushed, err := r.ledger.FlushIfDirty(ctx)
	r.publish(eventbus.Event{Type: eventbus.TickDone, Tick: &eventbus.TickStats{
		Fetched:    len(current),
		Followed:   len(res.Followed),
		Unfollowed: len(res.Unfollowed),
		Suspects:   suspects,
		Flushed:    flushed,
		Took:       r.now().Sub(start),
	}})
	return err
}

func (r *Reconciler) publish(e eventbus.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
