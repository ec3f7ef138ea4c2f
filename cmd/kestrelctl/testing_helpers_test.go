package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done), fnErr
}

// resetFlags restores every global flag to its default.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		verbose, quiet, jsonOut, noColor = false, false, false, false
		configPath, refresh, logLevel, logFile = "", "", "", ""
		memoryMiB = 0
		runTicks, runMax, runScreen, runEcho = 0, 100000, false, false
		statsTicks, statsThreads = 0, false
		memmapTicks, memmapPNG, memmapColumns, memmapCell = 0, "", 128, 4
		topSpeed = 1
	}
	reset()
	t.Cleanup(reset)
}
