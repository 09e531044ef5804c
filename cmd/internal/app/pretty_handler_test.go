package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyHandlerOutput(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, &slog.HandlerOptions{Level: slog.LevelDebug}, false)

	r := slog.NewRecord(time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC), slog.LevelInfo, "ws.connect", 0)
	r.AddAttrs(
		slog.String("connection_id", "01ARZ3NDEKTSV4RRFFQ69G5FAV"),
		slog.Int("status", 200),
	)
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	out := sb.String()
	for _, want := range []string{"msg=ws.connect", "lvl=[INFO]", "connection_id=01ARZ3NDEKTSV4RRFFQ69G5FAV", "status=200"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("output %q must end with a newline", out)
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, &slog.HandlerOptions{Level: slog.LevelWarn}, false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info must be suppressed at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error must pass at warn level")
	}
}

func TestPrettyHandlerWithAttrs(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, nil, false).WithAttrs([]slog.Attr{slog.String("wallet", "walletA")})

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "notify.delivered", 0)
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(sb.String(), "wallet=walletA") {
		t.Fatalf("output %q missing bound attr", sb.String())
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "two words", want: `"two words"`},
		{in: "", want: `""`},
		{in: "tab\there", want: `"tab\there"`},
	}
	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestLevelTag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level slog.Level
		want  string
	}{
		{level: slog.LevelDebug, want: "[DEBUG]"},
		{level: slog.LevelInfo, want: "[INFO]"},
		{level: slog.LevelWarn, want: "[WARN]"},
		{level: slog.LevelError, want: "[ERROR]"},
	}
	for _, tc := range cases {
		if got := levelTag(tc.level, false); got != tc.want {
			t.Fatalf("levelTag(%v)=%q want=%q", tc.level, got, tc.want)
		}
	}
}
