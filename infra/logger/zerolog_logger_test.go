package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	assert.NoError(t, os.Setenv("APP_ENV", "dev"))
	defer func() { assert.NoError(t, os.Unsetenv("APP_ENV")) }()
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestZerologLoggerWithAddsField(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLoggerWithWriter("sweeper", &buf, "debug").With("offer_id", "o-1")
	l.Infof("expired")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sweeper", entry["component"])
	assert.Equal(t, "o-1", entry["offer_id"])
	assert.Equal(t, "expired", entry["message"])
}

func TestZerologLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLoggerWithWriter("api", &buf, "warn")
	l.Infof("hidden")
	l.Warnf("shown")
	assert.False(t, strings.Contains(buf.String(), "hidden"))
	assert.True(t, strings.Contains(buf.String(), "shown"))
}
