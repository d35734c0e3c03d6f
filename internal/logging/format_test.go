package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFormatEntry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		fields map[string]interface{}
		want   string
	}{
		{
			name:   "defaults",
			fields: map[string]interface{}{"message": "hello"},
			want:   "2024-03-01 12:30:00.000 [INFO] simchain: hello\n",
		},
		{
			name: "phase and component with extras",
			fields: map[string]interface{}{
				"level":     "warn",
				"message":   "missing file",
				"phase":     "prepcompute",
				"component": "staging",
				"path":      "/a/b",
				"count":     2,
			},
			want: "2024-03-01 12:30:00.000 [WARN] prepcompute/staging: missing file count=2 path=/a/b\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatEntry(now, tt.fields); got != tt.want {
				t.Errorf("FormatEntry() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNamedLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf).Named("monitor")
	l.Info().Msg("poll")

	out := buf.String()
	if !strings.Contains(out, "monitor") || !strings.Contains(out, "poll") {
		t.Errorf("unexpected log output: %q", out)
	}
}
