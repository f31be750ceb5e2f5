package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("parseLevel(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()

	got := formatChatLine([]byte(`{"level":"warn","message":"send failed","entry":"abc","comp":"dispatch","time":"x"}`))
	want := "[WARN] send failed\n- comp=dispatch\n- entry=abc"
	if got != want {
		t.Fatalf("formatChatLine=%q want %q", got, want)
	}

	raw := formatChatLine([]byte("  not json \n"))
	if raw != "not json" {
		t.Fatalf("raw line=%q", raw)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("a", 50)
	if got := truncate(s, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate=%q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate short=%q", got)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.With(String("k", "v")).Info("discarded")
	if Nop().IsZero() {
		t.Fatalf("Nop logger should not be zero")
	}
}
