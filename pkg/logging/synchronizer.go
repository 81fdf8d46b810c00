/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logging

import "sync"

// synchronizedLogger serializes calls so that lines written by concurrent
// tests do not interleave.
type synchronizedLogger struct {
	inner Logger
	mutex sync.Mutex
}

func (sl *synchronizedLogger) Log(level LogLevel, text string, args ...interface{}) {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	sl.inner.Log(level, text, args...)
}

// Synchronize guards logger with a mutex.  Loggers which are already
// synchronized, and the nil logger, are returned unchanged.
func Synchronize(logger Logger) Logger {
	switch logger.(type) {
	case *synchronizedLogger, *nilLogger:
		return logger
	}
	return &synchronizedLogger{inner: logger}
}
