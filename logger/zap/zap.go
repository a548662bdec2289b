/*
 * Copyright (c) 2021 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
// Package zap implements logger.Logger on top of uber zap.
package zap

import (
	"os"

	uzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vmware/vmware-go-streamtrigger/logger"
)

type zapLogger struct {
	sugaredLogger *uzap.SugaredLogger
}

// NewZapLogger adapts an existing sugared zap logger to logger.Logger.
// A base zap logger can be converted with log.Sugar().
func NewZapLogger(l *uzap.SugaredLogger) logger.Logger {
	return &zapLogger{sugaredLogger: l}
}

// NewZapLoggerWithConfig creates a zap backed logger.Logger. Console and file sinks are teed so each
// keeps its own level and encoding.
func NewZapLoggerWithConfig(config logger.Configuration) logger.Logger {
	var cores []zapcore.Core

	if config.EnableConsole {
		writer := zapcore.Lock(os.Stdout)
		cores = append(cores, zapcore.NewCore(getEncoder(config.ConsoleJSONFormat), writer, getZapLevel(config.ConsoleLevel)))
	}

	if config.EnableFile {
		writer := zapcore.AddSync(logger.NewRotatingWriter(config))
		cores = append(cores, zapcore.NewCore(getEncoder(config.FileJSONFormat), writer, getZapLevel(config.FileLevel)))
	}

	// skip this file's frames so the caller location points at the trigger code
	l := uzap.New(zapcore.NewTee(cores...),
		uzap.AddCallerSkip(1),
		uzap.AddCaller(),
	).Sugar()

	return &zapLogger{sugaredLogger: l}
}

func (l *zapLogger) Debugf(format string, args ...interface{}) {
	l.sugaredLogger.Debugf(format, args...)
}

func (l *zapLogger) Infof(format string, args ...interface{}) {
	l.sugaredLogger.Infof(format, args...)
}

func (l *zapLogger) Warnf(format string, args ...interface{}) {
	l.sugaredLogger.Warnf(format, args...)
}

func (l *zapLogger) Errorf(format string, args ...interface{}) {
	l.sugaredLogger.Errorf(format, args...)
}

func (l *zapLogger) Fatalf(format string, args ...interface{}) {
	l.sugaredLogger.Fatalf(format, args...)
}

func (l *zapLogger) Panicf(format string, args ...interface{}) {
	l.sugaredLogger.Panicf(format, args...)
}

func (l *zapLogger) WithFields(fields logger.Fields) logger.Logger {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &zapLogger{sugaredLogger: l.sugaredLogger.With(kv...)}
}

func getEncoder(isJSON bool) zapcore.Encoder {
	encoderConfig := uzap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if isJSON {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getZapLevel(level string) zapcore.Level {
	switch level {
	case logger.Debug:
		return zapcore.DebugLevel
	case logger.Warn:
		return zapcore.WarnLevel
	case logger.Error:
		return zapcore.ErrorLevel
	case logger.Fatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
