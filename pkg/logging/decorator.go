/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logging

// decoratedLogger tags every line of an inner logger with a prefix and a
// fixed set of leading key value pairs.
type decoratedLogger struct {
	inner  Logger
	prefix string
	fields []interface{}
}

func (dl *decoratedLogger) Log(level LogLevel, text string, args ...interface{}) {
	merged := make([]interface{}, 0, len(dl.fields)+len(args))
	merged = append(merged, dl.fields...)
	merged = append(merged, args...)
	dl.inner.Log(level, dl.prefix+text, merged...)
}

// Decorate prefixes every message and prepends fields to every call.
func Decorate(logger Logger, prefix string, fields ...interface{}) Logger {
	return &decoratedLogger{
		inner:  logger,
		prefix: prefix,
		fields: fields,
	}
}
