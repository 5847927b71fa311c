package core

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger("grc", LogLevelWarn)
	l.SetOutput(&buf)

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	l.Warn("warn %d", 3)
	l.Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("messages below warn should be dropped: %q", out)
	}
	if !strings.Contains(out, "[grc] [WARN] warn 3") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[grc] [ERROR] error 4") {
		t.Errorf("missing error line: %q", out)
	}
}

func TestDefaultLogger_Named(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger("grc", LogLevelDebug)
	l.SetOutput(&buf)

	l.Named("promotion").Info("promoted %s", "fnd-1")
	if !strings.Contains(buf.String(), "[grc.promotion] [INFO] promoted fnd-1") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"INFO":    LogLevelInfo,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
		"off":     LogLevelSilent,
		"bogus":   LogLevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(NopLogger); !ok {
		t.Error("OrNop(nil) should return NopLogger")
	}
	l := NewDefaultLogger("", LogLevelInfo)
	if OrNop(l) != Logger(l) {
		t.Error("OrNop should pass through a non-nil logger")
	}
}
