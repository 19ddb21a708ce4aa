package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel(LevelInfo) })

	SetLevel(LevelDebug)
	assert.Equal(t, zapcore.DebugLevel, atom.Level())

	SetLevel(LevelError)
	assert.Equal(t, zapcore.ErrorLevel, atom.Level())
}

func TestPairsDropsMalformedKeys(t *testing.T) {
	got := pairs([]any{"visit_id", "a", 42, "x", "dangling"})
	assert.Equal(t, []any{"visit_id", "a"}, got)
}
