// SPDX-FileCopyrightText: Copyright 2026 mcpbridge authors
// SPDX-License-Identifier: Apache-2.0

// Package logger provides the process-wide structured logger used by every
// mcpbridge component. It wraps a zap.SugaredLogger behind a singleton so
// that packages can call the package-level functions (Infof, Errorf, ...)
// without threading a logger through every constructor.
package logger

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/zapr"
	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvReader abstracts environment variable lookups so Initialize can be
// exercised with something other than the real process environment.
type EnvReader interface {
	Getenv(string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	singleton.Store(mustBuild(true))
}

// Initialize (re)builds the singleton logger from the real process
// environment. Safe to call more than once; the last call wins.
func Initialize() {
	InitializeWithEnv(osEnv{})
}

// InitializeWithEnv (re)builds the singleton logger using env as the
// source of the UNSTRUCTURED_LOGS toggle.
func InitializeWithEnv(env EnvReader) {
	singleton.Store(mustBuild(unstructuredLogsWithEnv(env)))
}

// unstructuredLogsWithEnv reports whether console (human-readable) logging
// should be used rather than JSON. Default and any unparsable value is
// "unstructured" (true), matching local developer ergonomics.
func unstructuredLogsWithEnv(env EnvReader) bool {
	v := env.Getenv("UNSTRUCTURED_LOGS")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

func mustBuild(unstructured bool) *zap.SugaredLogger {
	var cfg zap.Config
	if unstructured {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// There is no logger yet to report this through, so fall back to a
		// minimal logger rather than panicking during package init.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Get returns the current singleton logger.
func Get() *zap.SugaredLogger {
	return singleton.Load()
}

// NewLogr adapts the singleton logger to logr.Logger for libraries (e.g.
// controller-style clients) that expect that interface.
func NewLogr() logr.Logger {
	return zapr.NewLogger(Get().Desugar())
}

func Debug(args ...any)                  { Get().Debug(args...) }
func Debugf(template string, args ...any) { Get().Debugf(template, args...) }
func Debugw(msg string, kv ...any)       { Get().Debugw(msg, kv...) }

func Info(args ...any)                  { Get().Info(args...) }
func Infof(template string, args ...any) { Get().Infof(template, args...) }
func Infow(msg string, kv ...any)       { Get().Infow(msg, kv...) }

func Warn(args ...any)                  { Get().Warn(args...) }
func Warnf(template string, args ...any) { Get().Warnf(template, args...) }
func Warnw(msg string, kv ...any)       { Get().Warnw(msg, kv...) }

func Error(args ...any)                  { Get().Error(args...) }
func Errorf(template string, args ...any) { Get().Errorf(template, args...) }
func Errorw(msg string, kv ...any)       { Get().Errorw(msg, kv...) }

func DPanic(args ...any)                  { Get().DPanic(args...) }
func DPanicf(template string, args ...any) { Get().DPanicf(template, args...) }
func DPanicw(msg string, kv ...any)       { Get().DPanicw(msg, kv...) }

func Panic(args ...any)                  { Get().Panic(args...) }
func Panicf(template string, args ...any) { Get().Panicf(template, args...) }
func Panicw(msg string, kv ...any)       { Get().Panicw(msg, kv...) }
