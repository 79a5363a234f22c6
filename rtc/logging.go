// The MIT License (MIT)
//
// Copyright (c) 2021 Winlin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
package rtc

import (
	"context"
	"fmt"

	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/pion/logging"
)

// NewLoggerFactory routes the logs of pion to the logger of ctx. The trace and
// debug logs are dropped, unless verbose.
func NewLoggerFactory(ctx context.Context, verbose bool) logging.LoggerFactory {
	return &loggerFactory{ctx: ctx, verbose: verbose}
}

type loggerFactory struct {
	ctx     context.Context
	verbose bool
}

func (v *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{ctx: v.ctx, scope: scope, verbose: v.verbose}
}

type leveledLogger struct {
	ctx     context.Context
	scope   string
	verbose bool
}

func (v *leveledLogger) Trace(msg string) {
	v.Tracef("%v", msg)
}

func (v *leveledLogger) Tracef(format string, args ...interface{}) {
	if v.verbose {
		logger.If(v.ctx, "[%v] %v", v.scope, fmt.Sprintf(format, args...))
	}
}

func (v *leveledLogger) Debug(msg string) {
	v.Debugf("%v", msg)
}

func (v *leveledLogger) Debugf(format string, args ...interface{}) {
	if v.verbose {
		logger.If(v.ctx, "[%v] %v", v.scope, fmt.Sprintf(format, args...))
	}
}

func (v *leveledLogger) Info(msg string) {
	v.Infof("%v", msg)
}

func (v *leveledLogger) Infof(format string, args ...interface{}) {
	logger.If(v.ctx, "[%v] %v", v.scope, fmt.Sprintf(format, args...))
}

func (v *leveledLogger) Warn(msg string) {
	v.Warnf("%v", msg)
}

func (v *leveledLogger) Warnf(format string, args ...interface{}) {
	logger.Wf(v.ctx, "[%v] %v", v.scope, fmt.Sprintf(format, args...))
}

func (v *leveledLogger) Error(msg string) {
	v.Errorf("%v", msg)
}

func (v *leveledLogger) Errorf(format string, args ...interface{}) {
	logger.Ef(v.ctx, "[%v] %v", v.scope, fmt.Sprintf(format, args...))
}
