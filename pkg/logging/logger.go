/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Logger is minimal logging interface designed to be easily adaptable to any
// logging library.
type Logger interface {
	// Log is invoked with the log level, the log message, and key/value pairs
	// of any relevant log details. The keys are always strings, while the
	// values are unspecified.
	Log(level LogLevel, text string, args ...interface{})
}

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps level names of common logging libraries onto LogLevel.
// Unknown names map to LevelInfo.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(name) {
	case "trace", "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "fatal", "panic", "dpanic":
		return LevelError
	default:
		return LevelInfo
	}
}

// Console logger writing log messages directly to an output stream.
type consoleLogger struct {
	level LogLevel
	out   io.Writer
}

// NewConsoleLogger returns a Logger writing messages of at least level to out.
func NewConsoleLogger(level LogLevel, out io.Writer) Logger {
	return &consoleLogger{level: level, out: out}
}

// Log is invoked with the log level, the log message, and key/value pairs
// of any relevant log details. The keys are always strings, while the
// values are unspecified. If the level is greater of equal than this consoleLogger,
// Log() writes the log message to its output.
func (l *consoleLogger) Log(level LogLevel, text string, args ...interface{}) {
	if level < l.level {
		return
	}

	var b strings.Builder
	b.WriteString(text)
	for i := 0; i < len(args); i++ {
		if i+1 < len(args) {
			switch args[i+1].(type) {
			case []byte:
				// Print byte arrays in base 16 encoding.
				fmt.Fprintf(&b, " %s=%x", args[i], args[i+1])
			default:
				// Print all other types using the Go default format.
				fmt.Fprintf(&b, " %s=%v", args[i], args[i+1])
			}
			i++
		} else {
			fmt.Fprintf(&b, " %s=%%MISSING%%", args[i])
		}
	}
	b.WriteString("\n")

	io.WriteString(l.out, b.String())
}

// The nil logger drops all messages.
type nilLogger struct{}

// The Log method of the nilLogger does nothing, effectively dropping every log message.
func (nl *nilLogger) Log(level LogLevel, text string, args ...interface{}) {
	// Do nothing.
}

var (
	// ConsoleDebugLogger implements Logger and writes all log messages to stdout.
	ConsoleDebugLogger = NewConsoleLogger(LevelDebug, os.Stdout)

	// ConsoleInfoLogger implements Logger and writes all LevelInfo and above log messages to stdout.
	ConsoleInfoLogger = NewConsoleLogger(LevelInfo, os.Stdout)

	// ConsoleWarnLogger implements Logger and writes all LevelWarn and above log messages to stdout.
	ConsoleWarnLogger = NewConsoleLogger(LevelWarn, os.Stdout)

	// ConsoleErrorLogger implements Logger and writes all LevelError log messages to stdout.
	ConsoleErrorLogger = NewConsoleLogger(LevelError, os.Stdout)

	// NilLogger drops all log messages.
	NilLogger Logger = &nilLogger{}
)

// Fields pairs up the key/value arguments passed to Log.  A trailing key
// without value maps to nil.
func Fields(args ...interface{}) map[string]interface{} {
	fields := map[string]interface{}{}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 < len(args) {
			fields[key] = args[i+1]
		} else {
			fields[key] = nil
		}
	}
	return fields
}
