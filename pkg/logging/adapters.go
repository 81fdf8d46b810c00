/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logging

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

type zerologLogger struct {
	logger zerolog.Logger
}

// FromZerolog adapts a zerolog logger.
func FromZerolog(logger zerolog.Logger) Logger {
	return &zerologLogger{logger: logger}
}

func (zl *zerologLogger) Log(level LogLevel, text string, args ...interface{}) {
	var event *zerolog.Event
	switch level {
	case LevelDebug:
		event = zl.logger.Debug()
	case LevelInfo:
		event = zl.logger.Info()
	case LevelWarn:
		event = zl.logger.Warn()
	default:
		event = zl.logger.Error()
	}
	event.Fields(Fields(args...)).Msg(text)
}

type zapLogger struct {
	logger *zap.Logger
}

// FromZap adapts a zap logger.
func FromZap(logger *zap.Logger) Logger {
	return &zapLogger{logger: logger}
}

func (zl *zapLogger) Log(level LogLevel, text string, args ...interface{}) {
	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 < len(args) {
			fields = append(fields, zap.Any(key, args[i+1]))
		} else {
			fields = append(fields, zap.Skip())
		}
	}

	switch level {
	case LevelDebug:
		zl.logger.Debug(text, fields...)
	case LevelInfo:
		zl.logger.Info(text, fields...)
	case LevelWarn:
		zl.logger.Warn(text, fields...)
	default:
		zl.logger.Error(text, fields...)
	}
}
