/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logging

import "sync"

var (
	globalMutex  sync.RWMutex
	globalLogger = Synchronize(ConsoleWarnLogger)
)

// Global returns the process-wide logger.
func Global() Logger {
	globalMutex.RLock()
	defer globalMutex.RUnlock()
	return globalLogger
}

// SetGlobal replaces the process-wide logger.  The logger is synchronized,
// since package level calls may come from any goroutine.  Tests should
// redirect it through logrecorder instead, which restores it afterwards.
func SetGlobal(logger Logger) {
	if logger == nil {
		logger = NilLogger
	}
	logger = Synchronize(logger)
	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalLogger = logger
}

func Debug(text string, args ...interface{}) {
	Global().Log(LevelDebug, text, args...)
}

func Info(text string, args ...interface{}) {
	Global().Log(LevelInfo, text, args...)
}

func Warn(text string, args ...interface{}) {
	Global().Log(LevelWarn, text, args...)
}

func Error(text string, args ...interface{}) {
	Global().Log(LevelError, text, args...)
}
