package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Writer(t *testing.T) {
	t.Cleanup(func() { _ = Init(Options{}) })

	var out bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Writer: &out, Level: slog.LevelDebug}))

	Debug("frame requested", "addr", "0x1000")
	assert.Contains(t, out.String(), "frame requested")
	assert.Contains(t, out.String(), "addr=0x1000")
}

func TestInit_JSON(t *testing.T) {
	t.Cleanup(func() { _ = Init(Options{}) })

	var out bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Writer: &out, JSON: true}))

	Info("boot complete", "processes", 2)
	assert.Contains(t, out.String(), `"msg":"boot complete"`)
	assert.Contains(t, out.String(), `"processes":2`)
}

func TestInit_Disabled(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Init(Options{Enabled: false, Writer: &out}))
	Error("dropped")
	assert.Empty(t, out.String())
}

func TestInit_LogDir(t *testing.T) {
	t.Cleanup(func() { _ = Init(Options{}) })

	dir := t.TempDir()
	stale := filepath.Join(dir, logPrefix+time.Now().AddDate(0, 0, -90).Format("2006-01-02")+logSuffix)
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	require.NoError(t, Init(Options{Enabled: true, LogDir: dir}))
	Warn("written to file")

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale log should be removed")

	today := filepath.Join(dir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)
	_, err = os.Stat(today)
	require.NoError(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nope"))
}
