package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "unfollowbot/pkg/logx"
)

// fakeClock jumps forward by the requested delay instead of waiting.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLoopRunsNTicksWithFixedDelay(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var starts []time.Time
	tick := func(context.Context) error {
		starts = append(starts, clock.Now())
		clock.advance(7 * time.Second) // the tick itself takes 7s
		if len(starts) == 4 {
			cancel()
		}
		return nil
	}
	var reports []Report
	l := New(Every(time.Minute), tick, logx.Nop(), WithClock(clock), WithAfterTick(func(r Report) { reports = append(reports, r) }))
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(starts) != 4 || len(reports) != 4 {
		t.Fatalf("ticks = %d, reports = %d", len(starts), len(reports))
	}
	for i := 1; i < len(starts); i++ {
		// delay is measured from completion, not from start
		if gap := starts[i].Sub(starts[i-1]); gap != 67*time.Second {
			t.Fatalf("gap %d = %s, want 1m7s", i, gap)
		}
	}
	for _, w := range clock.waits {
		if w != time.Minute {
			t.Fatalf("wait = %s, want 1m", w)
		}
	}
	if reports[0].Took != 7*time.Second || reports[0].Seq != 1 {
		t.Fatalf("report = %+v", reports[0])
	}
}

func TestLoopSurvivesPanicsAndErrors(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	tick := func(context.Context) error {
		calls++
		switch calls {
		case 1:
			panic("boom")
		case 2:
			return errors.New("api down")
		case 3:
			cancel()
		}
		return nil
	}
	var reports []Report
	l := New(Every(time.Second), tick, logx.Nop(), WithClock(clock), WithAfterTick(func(r Report) { reports = append(reports, r) }))
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if !reports[0].Panicked || reports[0].Err == nil {
		t.Fatalf("first report = %+v", reports[0])
	}
	if reports[1].Panicked || reports[1].Err == nil {
		t.Fatalf("second report = %+v", reports[1])
	}
	if reports[2].Err != nil {
		t.Fatalf("third report = %+v", reports[2])
	}
}

func TestSetScheduleAppliesToNextWait(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var l *Loop
	calls := 0
	tick := func(context.Context) error {
		calls++
		if calls == 2 {
			l.SetSchedule(Every(5 * time.Minute))
		}
		if calls == 3 {
			cancel()
		}
		return nil
	}
	l = New(Every(time.Minute), tick, logx.Nop(), WithClock(clock))
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The change made during the second tick applies to the wait after it.
	if len(clock.waits) < 2 || clock.waits[0] != time.Minute || clock.waits[len(clock.waits)-1] != 5*time.Minute {
		t.Fatalf("waits = %v", clock.waits)
	}
}

func TestRunReturnsWhenCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	l := New(Every(time.Second), func(context.Context) error { called = true; return nil }, logx.Nop(), WithClock(newFakeClock()))
	if err := l.Run(ctx); err != nil || called {
		t.Fatalf("Run = %v, called = %v", err, called)
	}
}

func TestParseSchedule(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC)
	tests := []struct {
		in     string
		source string
		next   time.Time
	}{
		{"1m", "duration", base.Add(time.Minute)},
		{"every:90s", "duration", base.Add(90 * time.Second)},
		{"00:05", "hhmm", base.Add(5 * time.Minute)},
		{"interval:01:30", "hhmm", base.Add(90 * time.Minute)},
		{"*/5 * * * *", "cron", time.Date(2024, 1, 1, 12, 5, 0, 0, time.UTC)},
		{"@hourly", "cron", time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)},
		{"cron:0 0 * * *", "cron", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		s, err := ParseSchedule(tt.in)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
		}
		if s.Source != tt.source {
			t.Fatalf("ParseSchedule(%q).Source = %q, want %q", tt.in, s.Source, tt.source)
		}
		if got := s.Next(base); !got.Equal(tt.next) {
			t.Fatalf("ParseSchedule(%q).Next = %s, want %s", tt.in, got, tt.next)
		}
	}

	for _, bad := range []string{"", "soon", "0s", "-1m", "00:00", "12:75", "cron:", "* * *"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Fatalf("ParseSchedule(%q) accepted", bad)
		}
	}
}
