package logs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeLoggerRingBuffer(t *testing.T) {
	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)

	l := NewNodeLogger("ring-test", 3)
	for i := 0; i < 5; i++ {
		l.Info("line %d", i)
	}
	got := l.GetLogs()
	require.Len(t, got, 3)
	assert.Contains(t, got[0], "line 2")
	assert.Contains(t, got[2], "line 4")

	assert.Equal(t, got, GetLogsForNode("ring-test"))
	assert.Contains(t, GetAllLoggedNodes(), "ring-test")
}

func TestNodeLoggerLevelFilter(t *testing.T) {
	SetLevel(LevelWarning)
	defer SetLevel(LevelInfo)

	l := NewNodeLogger("filter-test", 10)
	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("visible")
	got := l.GetLogs()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "WARN visible")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]int{
		"trace": LevelTrace, "DEBUG": LevelDebug, "warn": LevelWarning,
		"error": LevelError, "": LevelInfo, "bogus": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
	assert.Nil(t, GetLogsForNode(fmt.Sprintf("missing-%d", 1)))
}
