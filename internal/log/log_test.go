package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" ERROR ", LevelError},
		{"info", LevelInfo},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "input %q", tt.in)
	}
}

func TestSetLevelAdjustsAtomicLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel(LevelInfo) })

	SetLevel(LevelDebug)
	assert.True(t, atom.Enabled(zapcore.DebugLevel))

	SetLevel(LevelError)
	assert.False(t, atom.Enabled(zapcore.InfoLevel))
	assert.True(t, atom.Enabled(zapcore.ErrorLevel))
}

func TestLoggingDoesNotPanicBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Debug("debug line", "k", 1)
		Info("info line", "k", "v")
		Error("error line", errors.New("boom"), "k", true)
		Sync()
	})
}
