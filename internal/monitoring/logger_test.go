package monitoring

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLevel(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	SetLevel(zerolog.WarnLevel)

	l := Logger()
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf)
	l.Warn().Str("step", "stop_motor").Msg("shutdown step failed")
	if !strings.Contains(buf.String(), "shutdown step failed") || !strings.Contains(buf.String(), "stop_motor") {
		t.Errorf("console output missing fields: %q", buf.String())
	}
}
