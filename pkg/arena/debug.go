/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package arena

import (
	"io"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type logger struct {
	name string
	zl   atomic.Pointer[zerolog.Logger]
}

var (
	internalLogger = newLogger("arena", os.Stderr)
	level          atomic.Int32

	levelMapping = []zerolog.Level{
		zerolog.TraceLevel,
		zerolog.DebugLevel,
		zerolog.InfoLevel,
		zerolog.WarnLevel,
		zerolog.ErrorLevel,
		zerolog.Disabled,
	}
)

const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelNoPrint
)

func init() {
	level.Store(levelWarn)
	if v := os.Getenv("SHMLOG_LOG_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= levelTrace && n <= levelNoPrint {
			level.Store(int32(n))
		}
	}
}

// SetLogLevel changes the internal logger's level; the default is Warn
// (3). Levels run from Trace (0) to NoPrint (5). The process env
// `SHMLOG_LOG_LEVEL` also sets the level.
func SetLogLevel(l int) {
	if l >= levelTrace && l <= levelNoPrint {
		level.Store(int32(l))
	}
}

// SetLogOutput redirects the internal logger.
func SetLogOutput(w io.Writer) {
	internalLogger.setOutput(w)
}

func newLogger(name string, out io.Writer) *logger {
	l := &logger{name: name}
	l.setOutput(out)
	return l
}

func (l *logger) setOutput(out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	zl := zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05.999999",
	}).With().Timestamp().Caller().Str("component", l.name).Logger()
	l.zl.Store(&zl)
}

func (l *logger) logf(lv int, format string, a ...interface{}) {
	if int32(lv) < level.Load() {
		return
	}
	l.zl.Load().WithLevel(levelMapping[lv]).CallerSkipFrame(2).Msgf(format, a...)
}

func (l *logger) errorf(format string, a ...interface{}) {
	l.logf(levelError, format, a...)
}

func (l *logger) warnf(format string, a ...interface{}) {
	l.logf(levelWarn, format, a...)
}

func (l *logger) infof(format string, a ...interface{}) {
	l.logf(levelInfo, format, a...)
}

func (l *logger) debugf(format string, a ...interface{}) {
	l.logf(levelDebug, format, a...)
}

func (l *logger) tracef(format string, a ...interface{}) {
	l.logf(levelTrace, format, a...)
}
