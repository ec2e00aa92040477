// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package loggerimpl

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/titanos/activityd/common/log"
	"github.com/titanos/activityd/common/log/tag"
)

type loggerImpl struct {
	zapLogger *zap.Logger
	skip      int
}

const skipForDefaultLogger = 3

// NewLogger returns a new logger backed by the given zap logger
func NewLogger(zapLogger *zap.Logger) log.Logger {
	return &loggerImpl{
		zapLogger: zapLogger,
		skip:      skipForDefaultLogger,
	}
}

// NewDevelopment returns a logger at debug level and log into STDERR
func NewDevelopment() (log.Logger, error) {
	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return NewLogger(zapLogger), nil
}

// NewNopLogger returns a no-op logger
func NewNopLogger() log.Logger {
	return NewLogger(zap.NewNop())
}

// NewLoggerForTest returns a development logger, panicking if the
// underlying zap logger cannot be built
func NewLoggerForTest() log.Logger {
	logger, err := NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}

func (lg *loggerImpl) buildFields(tags []tag.Tag) []zap.Field {
	fields := make([]zap.Field, 0, len(tags))
	for _, t := range tags {
		f := t.Field()
		if f.Key == "" {
			// ignore empty tag keys
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

func (lg *loggerImpl) Debug(msg string, tags ...tag.Tag) {
	if lg.zapLogger.Core().Enabled(zapcore.DebugLevel) {
		lg.zapLogger.Debug(msg, lg.buildFields(tags)...)
	}
}

func (lg *loggerImpl) Info(msg string, tags ...tag.Tag) {
	if lg.zapLogger.Core().Enabled(zapcore.InfoLevel) {
		lg.zapLogger.Info(msg, lg.buildFields(tags)...)
	}
}

func (lg *loggerImpl) Warn(msg string, tags ...tag.Tag) {
	if lg.zapLogger.Core().Enabled(zapcore.WarnLevel) {
		lg.zapLogger.Warn(msg, lg.buildFields(tags)...)
	}
}

func (lg *loggerImpl) Error(msg string, tags ...tag.Tag) {
	if lg.zapLogger.Core().Enabled(zapcore.ErrorLevel) {
		lg.zapLogger.Error(msg, lg.buildFields(tags)...)
	}
}

func (lg *loggerImpl) Fatal(msg string, tags ...tag.Tag) {
	lg.zapLogger.Fatal(msg, lg.buildFields(tags)...)
}

func (lg *loggerImpl) WithTags(tags ...tag.Tag) log.Logger {
	return &loggerImpl{
		zapLogger: lg.zapLogger.With(lg.buildFields(tags)...),
		skip:      lg.skip,
	}
}
