package utils

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func capture(l *Logger) *bytes.Buffer {
	var buf bytes.Buffer
	l.out = log.New(&buf, "", 0)
	return &buf
}

func TestLogger_LevelThreshold(t *testing.T) {
	l := NewLogger("test")
	buf := capture(l)
	l.SetLevel(LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown too")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Messages below the threshold were written: %q", out)
	}
	if !strings.Contains(out, "WARN shown") || !strings.Contains(out, "ERROR shown too") {
		t.Errorf("Messages at or above the threshold missing: %q", out)
	}
}

func TestLogger_KeyvalsAndBoundFields(t *testing.T) {
	l := NewLogger("billing").With("account_id", "a1")
	buf := capture(l)
	l.SetLevel(LevelInfo)

	l.Info("Reserved tokens", "tokens", 2.5)

	out := buf.String()
	if !strings.Contains(out, "[billing] INFO Reserved tokens account_id=a1 tokens=2.5") {
		t.Errorf("Unexpected line format: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
