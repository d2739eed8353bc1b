package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))
	log.Debug("hidden")
	log.Info("hello", Int("n", 3), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatal(err)
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["n"] != float64(3) || m["err"] != "boom" {
		t.Fatalf("line = %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	log.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop is a configured logger")
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "debug", "WARN", "warning", "trace"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Error("ValidLevel(loud) = true")
	}
}

func TestFormatLine(t *testing.T) {
	got := formatLine([]byte(`{"level":"warn","message":"disk","time":"x","b":2,"a":"1"}`))
	want := "[WARN] disk\n- a=1\n- b=2"
	if got != want {
		t.Fatalf("formatLine = %q, want %q", got, want)
	}
}

type chanSender chan string

func (c chanSender) SendLog(_ context.Context, text string) error {
	c <- text
	return nil
}

func TestTelegramSinkHonorsMinLevel(t *testing.T) {
	sent := make(chanSender, 4)
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, sent)
	defer svc.Close()

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	select {
	case msg := <-sent:
		if !strings.HasPrefix(msg, "[WARN] loud") || !strings.Contains(msg, "- k=v") {
			t.Fatalf("sent = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent")
	}
	select {
	case msg := <-sent:
		t.Fatalf("unexpected message %q", msg)
	default:
	}
}
