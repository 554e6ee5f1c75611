// SPDX-FileCopyrightText: Copyright 2026 mcpbridge authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type fakeEnv map[string]string

func (f fakeEnv) Getenv(key string) string { return f[key] }

func TestUnstructuredLogsCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{"Default Case", "", true},
		{"Explicitly True", "true", true},
		{"Explicitly False", "false", false},
		{"Invalid Value", "not-a-bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := unstructuredLogsWithEnv(fakeEnv{"UNSTRUCTURED_LOGS": tt.envValue})
			assert.Equal(t, tt.expected, got)
		})
	}
}

// buildTestLogger builds a logger that writes to buf; development controls
// whether DPanic escalates to an actual panic, matching zap's own semantics.
func buildTestLogger(buf *bytes.Buffer, development bool) *zap.SugaredLogger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(buf),
		zapcore.DebugLevel,
	)
	var opts []zap.Option
	if development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...).Sugar()
}

func setSingletonForTest(t *testing.T, l *zap.SugaredLogger) {
	t.Helper()
	prev := singleton.Load()
	singleton.Store(l)
	t.Cleanup(func() { singleton.Store(prev) })
}

func TestLogLevels(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name     string
		logFn    func()
		contains string
	}{
		{"Debug", func() { Debug("debug msg") }, "debug msg"},
		{"Debugf", func() { Debugf("debug %s", "formatted") }, "debug formatted"},
		{"Debugw", func() { Debugw("debug kv", "key", "val") }, "debug kv"},
		{"Info", func() { Info("info msg") }, "info msg"},
		{"Infof", func() { Infof("info %s", "formatted") }, "info formatted"},
		{"Infow", func() { Infow("info kv", "key", "val") }, "info kv"},
		{"Warn", func() { Warn("warn msg") }, "warn msg"},
		{"Warnf", func() { Warnf("warn %s", "formatted") }, "warn formatted"},
		{"Warnw", func() { Warnw("warn kv", "key", "val") }, "warn kv"},
		{"Error", func() { Error("error msg") }, "error msg"},
		{"Errorf", func() { Errorf("error %s", "formatted") }, "error formatted"},
		{"Errorw", func() { Errorw("error kv", "key", "val") }, "error kv"},
		{"DPanic", func() { DPanic("dpanic msg") }, "dpanic msg"},
		{"DPanicf", func() { DPanicf("dpanic %s", "formatted") }, "dpanic formatted"},
		{"DPanicw", func() { DPanicw("dpanic kv", "key", "val") }, "dpanic kv"},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			setSingletonForTest(t, buildTestLogger(&buf, false))

			tc.logFn()

			assert.Contains(t, buf.String(), tc.contains)
		})
	}
}

func TestPanicFunctions(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name     string
		logFn    func()
		contains string
	}{
		{"Panic", func() { Panic("panic msg") }, "panic msg"},
		{"Panicf", func() { Panicf("panic %s", "formatted") }, "panic formatted"},
		{"Panicw", func() { Panicw("panic kv", "key", "val") }, "panic kv"},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			setSingletonForTest(t, buildTestLogger(&buf, true))

			require.Panics(t, func() { tc.logFn() })
			assert.Contains(t, buf.String(), tc.contains)
		})
	}
}

func TestNewLogr(t *testing.T) { //nolint:paralleltest // mutates singleton
	var buf bytes.Buffer
	setSingletonForTest(t, buildTestLogger(&buf, false))

	lr := NewLogr()
	lr.Info("logr test message")

	assert.Contains(t, buf.String(), "logr test message")
}

func TestGet(t *testing.T) { //nolint:paralleltest // mutates singleton
	var buf bytes.Buffer
	setSingletonForTest(t, buildTestLogger(&buf, false))

	got := Get()
	require.NotNil(t, got)

	got.Info("get test")
	assert.Contains(t, buf.String(), "get test")
}

func TestInitializeWithEnv(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name            string
		unstructuredEnv string
	}{
		{"Default (unstructured)", ""},
		{"Explicit unstructured", "true"},
		{"Structured JSON", "false"},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			prev := singleton.Load()
			t.Cleanup(func() { singleton.Store(prev) })

			InitializeWithEnv(fakeEnv{"UNSTRUCTURED_LOGS": tc.unstructuredEnv})

			got := singleton.Load()
			require.NotNil(t, got)
			got.Info("test after initialize")
		})
	}
}
