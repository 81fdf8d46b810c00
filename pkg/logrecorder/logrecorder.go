/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package logrecorder redirects a process-wide log emission point into
// memory so tests can assert on what was logged.
package logrecorder

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/hyperledger-labs/testscope/pkg/logging"
	"github.com/hyperledger-labs/testscope/pkg/override"
)

// Entry is one captured log line.
type Entry struct {
	Level   logging.LogLevel
	Message string
	Fields  map[string]interface{}
}

func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Level.String())
	b.WriteString(": ")
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}

	return b.String()
}

// Capture holds the entries emitted while a target is redirected.
type Capture interface {
	Entries() []Entry
	Reset()
}

// Target is a log emission point which can be redirected into a Capture.
// When verbose, entries still reach the original output as well.
type Target interface {
	Name() string
	Redirect(verbose bool) (*override.Token, Capture, error)
	Restore(token *override.Token) error
}

// TargetByName returns a built-in target: "logging", "zerolog" or "zap".
func TargetByName(name string) (Target, error) {
	switch name {
	case "logging":
		return LoggingTarget(), nil
	case "zerolog":
		return ZerologTarget(), nil
	case "zap":
		return ZapTarget(), nil
	default:
		return nil, errors.Errorf("unknown log target %q", name)
	}
}

type memCapture struct {
	mutex   sync.Mutex
	entries []Entry
}

func (m *memCapture) add(e Entry) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries = append(m.entries, e)
}

func (m *memCapture) Entries() []Entry {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Entry(nil), m.entries...)
}

func (m *memCapture) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries = nil
}

// Interceptor records what a target emits between Inject and Release.
type Interceptor struct {
	target  Target
	verbose bool

	token   *override.Token
	capture Capture
}

func New(target Target, verbose bool) *Interceptor {
	return &Interceptor{
		target:  target,
		verbose: verbose,
	}
}

func (i *Interceptor) Inject() error {
	if i.token != nil {
		return errors.WithMessagef(override.ErrAlreadyInstalled, "log target %q", i.target.Name())
	}

	token, capture, err := i.target.Redirect(i.verbose)
	if err != nil {
		return err
	}

	i.token = token
	i.capture = capture
	return nil
}

// Release restores the target.  Captured entries stay readable.
func (i *Interceptor) Release() error {
	if i.token == nil {
		return errors.WithMessagef(override.ErrNotInstalled, "log target %q", i.target.Name())
	}

	if err := i.target.Restore(i.token); err != nil {
		return err
	}

	i.token = nil
	return nil
}

func (i *Interceptor) IsInjected() bool {
	return i.token != nil
}

func (i *Interceptor) Verbose() bool {
	return i.verbose
}

func (i *Interceptor) Get() []Entry {
	if i.capture == nil {
		return nil
	}
	return i.capture.Entries()
}

// Messages returns the captured entries rendered with Entry.String.
func (i *Interceptor) Messages() []string {
	entries := i.Get()
	result := make([]string, len(entries))
	for j, e := range entries {
		result[j] = e.String()
	}
	return result
}

// Reset drops captured entries without releasing the target.
func (i *Interceptor) Reset() {
	if i.capture != nil {
		i.capture.Reset()
	}
}
