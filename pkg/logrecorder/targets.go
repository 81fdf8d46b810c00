/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logrecorder

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hyperledger-labs/testscope/pkg/logging"
	"github.com/hyperledger-labs/testscope/pkg/override"
)

// loggingTarget redirects the pkg/logging global logger.
type loggingTarget struct {
	slot *override.Slot[logging.Logger]
}

func LoggingTarget() Target {
	return NewLoggingTarget(override.Default)
}

func NewLoggingTarget(registry *override.Registry) Target {
	return &loggingTarget{
		slot: override.NewSlot(registry, override.Logs("logging"), logging.Global, logging.SetGlobal),
	}
}

func (t *loggingTarget) Name() string {
	return "logging"
}

// ForwardPrefix marks lines a verbose recorder passes through to the
// original logging global.
const ForwardPrefix = "[recorded] "

type captureLogger struct {
	capture *memCapture
	forward logging.Logger
}

func (cl *captureLogger) Log(level logging.LogLevel, text string, args ...interface{}) {
	cl.capture.add(Entry{
		Level:   level,
		Message: text,
		Fields:  logging.Fields(args...),
	})
	if cl.forward != nil {
		cl.forward.Log(level, text, args...)
	}
}

func (t *loggingTarget) Redirect(verbose bool) (*override.Token, Capture, error) {
	capture := &memCapture{}
	logger := &captureLogger{capture: capture}
	if verbose {
		logger.forward = logging.Decorate(logging.Global(), ForwardPrefix)
	}

	token, err := t.slot.Install(logger)
	if err != nil {
		return nil, nil, err
	}
	return token, capture, nil
}

func (t *loggingTarget) Restore(token *override.Token) error {
	return t.slot.Restore(token)
}

// zerologTarget redirects github.com/rs/zerolog/log.Logger.
type zerologTarget struct {
	slot    *override.Slot[zerolog.Logger]
	console io.Writer
}

func ZerologTarget() Target {
	return NewZerologTarget(override.Default, os.Stderr)
}

// NewZerologTarget returns a zerolog target which forwards verbose output
// to console.
func NewZerologTarget(registry *override.Registry, console io.Writer) Target {
	return &zerologTarget{
		slot: override.NewSlot(registry, override.Logs("zerolog"),
			func() zerolog.Logger { return zlog.Logger },
			func(l zerolog.Logger) { zlog.Logger = l },
		),
		console: console,
	}
}

func (t *zerologTarget) Name() string {
	return "zerolog"
}

// zerologWriter decodes the JSON lines zerolog produces.
type zerologWriter struct {
	capture *memCapture
}

func (w *zerologWriter) Write(p []byte) (int, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		w.capture.add(Entry{Level: logging.LevelInfo, Message: string(p)})
		return len(p), nil
	}

	entry := Entry{Level: logging.LevelInfo}
	if level, ok := fields[zerolog.LevelFieldName].(string); ok {
		entry.Level = logging.ParseLevel(level)
	}
	if message, ok := fields[zerolog.MessageFieldName].(string); ok {
		entry.Message = message
	}
	delete(fields, zerolog.LevelFieldName)
	delete(fields, zerolog.MessageFieldName)
	delete(fields, zerolog.TimestampFieldName)
	entry.Fields = fields

	w.capture.add(entry)
	return len(p), nil
}

func (t *zerologTarget) Redirect(verbose bool) (*override.Token, Capture, error) {
	capture := &memCapture{}

	var out io.Writer = &zerologWriter{capture: capture}
	if verbose {
		out = zerolog.MultiLevelWriter(out, zerolog.ConsoleWriter{Out: t.console, TimeFormat: "15:04:05.000"})
	}

	token, err := t.slot.Install(zerolog.New(out).With().Timestamp().Logger())
	if err != nil {
		return nil, nil, err
	}
	return token, capture, nil
}

func (t *zerologTarget) Restore(token *override.Token) error {
	return t.slot.Restore(token)
}

// zapTarget redirects the zap global loggers (zap.L and zap.S).
type zapTarget struct {
	slot *override.Slot[*zap.Logger]
}

func ZapTarget() Target {
	return NewZapTarget(override.Default)
}

func NewZapTarget(registry *override.Registry) Target {
	return &zapTarget{
		slot: override.NewSlot(registry, override.Logs("zap"),
			zap.L,
			func(l *zap.Logger) { zap.ReplaceGlobals(l) },
		),
	}
}

func (t *zapTarget) Name() string {
	return "zap"
}

type observedCapture struct {
	logs *observer.ObservedLogs
}

func (oc *observedCapture) Entries() []Entry {
	observed := oc.logs.All()
	result := make([]Entry, len(observed))
	for i, e := range observed {
		result[i] = Entry{
			Level:   logging.ParseLevel(e.Level.String()),
			Message: e.Message,
			Fields:  e.ContextMap(),
		}
	}
	return result
}

func (oc *observedCapture) Reset() {
	oc.logs.TakeAll()
}

func (t *zapTarget) Redirect(verbose bool) (*override.Token, Capture, error) {
	core, logs := observer.New(zapcore.DebugLevel)
	if verbose {
		core = zapcore.NewTee(core, zap.L().Core())
	}

	token, err := t.slot.Install(zap.New(core))
	if err != nil {
		return nil, nil, err
	}
	return token, &observedCapture{logs: logs}, nil
}

func (t *zapTarget) Restore(token *override.Token) error {
	return t.slot.Restore(token)
}
