/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package scope runs Go tests inside nested scopes which pin the sources of
// non-determinism: environment variables, the clock, randomness, logs and
// outbound HTTP.  A scope tree is declared with Describe and then driven by
// Run from a regular test function:
//
//	func TestUsers(t *testing.T) {
//		scope.Describe("users", scope.Options{RandomSeed: "abc"}, func(s *scope.Suite) {
//			s.It("creates ids", func(t scope.T) { ... })
//		}).Run(t)
//	}
//
// Process settings come from TESTSCOPE_NET_HEAL, TESTSCOPE_VERBOSE and
// TESTSCOPE_LOG_LEVEL, or from flags.  The test binary rejects flags it
// does not know, so ours go after a separator:
//
//	go test ./... -args -- --net-heal --verbose
package scope

import (
	"regexp"
	"runtime"
	"strings"
	"testing"
)

// Suite is one declared scope: its options, hooks, tests and nested
// scopes, in declaration order.
type Suite struct {
	name     string
	file     string
	options  Options
	parent   *Suite
	settings *Settings

	before     []func(t T)
	after      []func(t T)
	beforeEach []func(t T, a *Args)
	afterEach  []func(t T, a *Args)

	children []child
}

type child struct {
	suite *Suite
	test  *testCase
}

type testCase struct {
	name string
	fn   func(t T, a *Args)
}

// Describe declares an outermost scope.  It panics when opts are invalid,
// so configuration errors surface before any test runs.
func Describe(name string, opts Options, body func(s *Suite)) *Suite {
	_, file, _, _ := runtime.Caller(1)
	return declare(nil, file, name, opts, body)
}

// Describe declares a nested scope.
func (s *Suite) Describe(name string, opts Options, body func(s *Suite)) *Suite {
	_, file, _, _ := runtime.Caller(1)
	nested := declare(s, file, name, opts, body)
	s.children = append(s.children, child{suite: nested})
	return nested
}

func declare(parent *Suite, file, name string, opts Options, body func(s *Suite)) *Suite {
	if err := opts.Validate(); err != nil {
		panic("scope " + name + ": bad options provided: " + err.Error())
	}

	s := &Suite{
		name:    name,
		file:    file,
		options: opts.resolved(file),
		parent:  parent,
	}

	if body != nil {
		body(s)
	}

	return s
}

func (s *Suite) Name() string {
	return s.name
}

// File is the test file the scope was declared in.
func (s *Suite) File() string {
	return s.file
}

// Options returns the options with default paths filled in and resolved.
func (s *Suite) Options() Options {
	return s.options
}

// Before registers a hook which runs once, after the scope's interceptors
// are installed and before its first test.
func (s *Suite) Before(fn func(t T)) {
	s.before = append(s.before, fn)
}

// After registers a hook which runs once after the last test, before the
// interceptors are released.
func (s *Suite) After(fn func(t T)) {
	s.after = append(s.after, fn)
}

// BeforeEach registers a hook for every test of this scope and of nested
// scopes, after the per-test resources are created.
func (s *Suite) BeforeEach(fn func(t T, a *Args)) {
	s.beforeEach = append(s.beforeEach, fn)
}

func (s *Suite) AfterEach(fn func(t T, a *Args)) {
	s.afterEach = append(s.afterEach, fn)
}

func (s *Suite) It(name string, fn func(t T)) {
	s.ItWithArgs(name, func(t T, _ *Args) {
		fn(t)
	})
}

// ItWithArgs declares a test which receives the per-test Args.
func (s *Suite) ItWithArgs(name string, fn func(t T, a *Args)) {
	s.children = append(s.children, child{test: &testCase{name: name, fn: fn}})
}

// WithSettings overrides the process settings for this scope tree.
func (s *Suite) WithSettings(settings Settings) *Suite {
	s.settings = &settings
	return s
}

// Run drives the scope tree as subtests of t.
func (s *Suite) Run(t *testing.T) {
	t.Helper()
	s.RunHost(Testing(t))
}

func (s *Suite) RunHost(t T) {
	t.Helper()

	settings := s.settings
	if settings == nil {
		current := CurrentSettings()
		settings = &current
	}

	r := &runner{
		settings: *settings,
		logger:   settings.Logger,
	}

	t.Run(s.name, func(t T) {
		r.runSuite(t, s, nil)
	})
}

func (s *Suite) path() []string {
	if s == nil {
		return nil
	}
	return append(s.parent.path(), s.name)
}

var unsafeCassetteChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CassetteName derives the cassette of a test from its nested name.
func CassetteName(path ...string) string {
	segments := make([]string, len(path))
	for i, p := range path {
		segments[i] = unsafeCassetteChars.ReplaceAllString(p, "-")
	}
	return strings.Join(segments, "_") + "_recording"
}
