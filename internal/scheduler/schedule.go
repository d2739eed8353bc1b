package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes when the next tick starts, given when the last one
// finished.
//
// Accepted forms:
//   - Go duration: "60s", "5m"
//   - HH:MM interval: "00:05" (5 minutes), "01:30"
//   - cron expression: "*/5 * * * *", "@hourly", "@every 2m"
//
// "cron:" forces cron parsing; "every:" or "interval:" forces an interval.
type Schedule struct {
	// Source is "duration", "hhmm" or "cron".
	Source string
	// Every is set for interval schedules.
	Every time.Duration
	Spec  string

	next cron.Schedule
}

// Next returns the start of the tick following one that finished at done.
func (s Schedule) Next(done time.Time) time.Time {
	if s.next == nil {
		return done
	}
	return s.next.Next(done)
}

func (s Schedule) String() string {
	if s.Source == "cron" {
		return "cron " + s.Spec
	}
	return "every " + s.Every.String()
}

// Every returns a fixed-delay schedule.
func Every(d time.Duration) Schedule {
	return Schedule{Source: "duration", Every: d, Spec: d.String(), next: fixedDelay(d)}
}

// fixedDelay keeps sub-second delays, which cron.Every rounds up to one
// second.
type fixedDelay time.Duration

func (d fixedDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	}

	// Whitespace or a leading '@' can only be cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	sched, err := parseInterval(s)
	if err != nil {
		return Schedule{}, fmt.Errorf(
			"invalid schedule %q (use a duration like '1m', HH:MM like '00:05', or cron like '*/5 * * * *')", raw)
	}
	return sched, nil
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression required")
	}
	next, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Schedule{Source: "cron", Spec: expr, next: next}, nil
}

func parseInterval(v string) (Schedule, error) {
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be > 0")
		}
		sched := Every(d)
		sched.Source, sched.Spec = "hhmm", v
		return sched, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Every(d), nil
}
