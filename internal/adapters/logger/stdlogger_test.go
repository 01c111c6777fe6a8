package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"Warning", LevelWarn},
		{"ERROR", LevelError},
		{" error ", LevelError},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "input %q", tt.in)
	}
}

func TestStdLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelWarn)
	ctx := context.Background()

	l.Debug(ctx, "dropped")
	l.Info(ctx, "dropped")
	l.Warn(ctx, "kept warn")
	l.Error(ctx, errors.New("boom"), "kept error")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "[WARN] kept warn")
	assert.Contains(t, out, "[ERROR] kept error | error: boom")
}

func TestStdLogger_FieldsSortedAndMerged(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelDebug)

	l.Info(context.Background(), "msg",
		map[string]interface{}{"zeta": 1, "alpha": "a"},
		map[string]interface{}{"alpha": "b"},
	)

	out := buf.String()
	assert.Contains(t, out, "msg | alpha=b zeta=1", "keys sorted, later map wins")
}

func TestStdLogger_NoFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelDebug)

	l.Info(context.Background(), "plain message")

	assert.Contains(t, buf.String(), "[INFO] plain message\n")
	assert.NotContains(t, buf.String(), "|")
}
