// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is a small printf-style levelled logger shared by the
// engine, the runners and the CLI.
package log

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	SilentLevel
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

var (
	std atomic.Pointer[zerolog.Logger]
	// mu serialises SetOutput and SetLogLevel; readers only Load.
	mu sync.Mutex
)

func init() {
	SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	SetLogLevel(InfoLevel)
}

// SetOutput redirects log output. Pass a zerolog.ConsoleWriter for human
// output or any io.Writer for JSON lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	lvl := zerolog.InfoLevel
	if cur := std.Load(); cur != nil {
		lvl = cur.GetLevel()
	}
	l := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	std.Store(&l)
}

// SetLogLevel sets the minimum level that is written.
func SetLogLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	l := std.Load().Level(level.zerolog())
	std.Store(&l)
}

// Logger exposes the underlying zerolog logger for structured fields.
func Logger() *zerolog.Logger { return std.Load() }

func Debug(format string, args ...any) { std.Load().Debug().Msgf(format, args...) }

func Info(format string, args ...any) { std.Load().Info().Msgf(format, args...) }

func Warn(format string, args ...any) { std.Load().Warn().Msgf(format, args...) }

func Error(format string, args ...any) { std.Load().Error().Msgf(format, args...) }
