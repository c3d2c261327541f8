package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func replaceExit(t *testing.T) *[]int {
	t.Helper()

	var codes []int

	origExit := exit
	exit = func(_ context.Context, code int) { codes = append(codes, code) }
	t.Cleanup(func() { exit = origExit })

	return &codes
}

func replaceLogger(t *testing.T) *observer.ObservedLogs {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)

	origLogger := logger
	logger = zap.New(core)
	t.Cleanup(func() { logger = origLogger })

	return logs
}

func TestFatalOnErrLogsAndExitsViaGoodbye(t *testing.T) {
	codes := replaceExit(t)
	logs := replaceLogger(t)

	fatalOnErr("could not load github api token", errors.New("open .env: permission denied"))

	assert.Equal(t, []int{1}, *codes)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "could not load github api token", entries[0].Message)
	assert.Equal(t, "fatal_error", entries[0].ContextMap()["event"])
	assert.Equal(t, "open .env: permission denied", entries[0].ContextMap()["error"])
}

func TestFatalOnErrWithoutErrorDoesNotExit(t *testing.T) {
	codes := replaceExit(t)
	logs := replaceLogger(t)

	fatalOnErr("could not load github api token", nil)

	assert.Empty(t, *codes)
	assert.Zero(t, logs.Len())
}
