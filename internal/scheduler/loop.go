// Package scheduler runs the reconciliation tick in a fixed-delay loop.
//
// One tick runs at a time. The wait before the next tick is measured from
// the moment the previous tick finished, so a slow tick pushes the next one
// back instead of overlapping it. Errors and panics from a tick are logged
// and the loop carries on.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "unfollowbot/pkg/logx"
)

type TickFunc func(ctx context.Context) error

// Clock abstracts time so tests can drive many ticks without waiting.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Report describes one finished tick.
type Report struct {
	Seq      uint64
	Started  time.Time
	Took     time.Duration
	Err      error
	Panicked bool
	Next     time.Time
}

type Option func(*Loop)

func WithClock(c Clock) Option { return func(l *Loop) { l.clock = c } }

// WithAfterTick registers a hook called after every tick, from the loop
// goroutine.
func WithAfterTick(fn func(Report)) Option { return func(l *Loop) { l.afterTick = fn } }

type Loop struct {
	tick      TickFunc
	log       logx.Logger
	clock     Clock
	afterTick func(Report)

	mu    sync.Mutex
	sched Schedule
	wake  chan struct{}
}

func New(sched Schedule, tick TickFunc, log logx.Logger, opts ...Option) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Loop{
		tick:  tick,
		log:   log,
		clock: realClock{},
		sched: sched,
		wake:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetSchedule replaces the schedule. A pending wait is recomputed from the
// end of the last tick.
func (l *Loop) SetSchedule(s Schedule) {
	l.mu.Lock()
	l.sched = s
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.log.Info("schedule updated", logx.String("schedule", s.String()))
}

func (l *Loop) Schedule() Schedule {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sched
}

// Run ticks immediately, then keeps ticking until ctx is done. It returns
// nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("scheduler started", logx.String("schedule", l.Schedule().String()))
	var seq uint64
	for {
		if ctx.Err() != nil {
			l.log.Info("scheduler stopped")
			return nil
		}
		seq++
		started := l.clock.Now()
		panicked, err := l.runTick(ctx, seq)
		done := l.clock.Now()

		next := l.Schedule().Next(done)
		rep := Report{Seq: seq, Started: started, Took: done.Sub(started), Err: err, Panicked: panicked, Next: next}
		if l.afterTick != nil {
			l.afterTick(rep)
		}

		if !l.wait(ctx, done) {
			l.log.Info("scheduler stopped")
			return nil
		}
	}
}

// wait sleeps until the next tick is due, recomputing when the schedule
// changes. It reports false when ctx is done.
func (l *Loop) wait(ctx context.Context, done time.Time) bool {
	// Changes made during the tick are already visible below.
	select {
	case <-l.wake:
	default:
	}
	for {
		next := l.Schedule().Next(done)
		d := next.Sub(l.clock.Now())
		if d < 0 {
			d = 0
		}
		l.log.Debug("next tick scheduled", logx.Time("at", next), logx.Duration("in", d))
		select {
		case <-ctx.Done():
			return false
		case <-l.wake:
			continue
		case <-l.clock.After(d):
			return true
		}
	}
}

func (l *Loop) runTick(ctx context.Context, seq uint64) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("tick panic: %v", r)
			l.log.Error("tick panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())), logx.Int64("seq", int64(seq)))
		}
	}()
	if err := l.tick(ctx); err != nil {
		if ctx.Err() == nil {
			l.log.Error("tick failed", logx.Err(err), logx.Int64("seq", int64(seq)))
		}
		return false, err
	}
	return false, nil
}
