/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package scope

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/hyperledger-labs/testscope/pkg/fixture"
	"github.com/hyperledger-labs/testscope/pkg/logrecorder"
)

// LogRecorder is the view of the per-test log recorder handed to tests.
type LogRecorder interface {
	Verbose() bool
	Get() []logrecorder.Entry
	Messages() []string
	Reset()
}

// Args is handed to hooks and to tests declared with ItWithArgs.
type Args struct {
	t        T
	ctx      context.Context
	fixtures string
	dir      string
	recorder *logrecorder.Interceptor
}

// Context carries the scope timeout as its deadline.
func (a *Args) Context() context.Context {
	return a.ctx
}

// Capture runs fn and returns its error.  The test fails when fn succeeds.
// A panic in fn is captured as an error.
func (a *Args) Capture(fn func() error) (err error) {
	a.t.Helper()

	func() {
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					err = errors.WithMessage(e, "panic")
				} else {
					err = errors.Errorf("panic: %v", r)
				}
			}
		}()
		err = fn()
	}()

	if err == nil {
		a.t.Fatalf("expected function to fail")
	}
	return err
}

// Fixture reads a fixture of the innermost scope.  A missing or ambiguous
// fixture fails the test.
func (a *Args) Fixture(name string) []byte {
	a.t.Helper()

	data, err := fixture.Read(a.fixtures, name)
	if err != nil {
		a.t.Fatalf("fixture %q not found or ambiguous: %v", name, err)
	}
	return data
}

// DecodeFixture unmarshals a fixture according to its extension.
func (a *Args) DecodeFixture(name string, v interface{}) {
	a.t.Helper()

	if err := fixture.Decode(a.fixtures, name, v); err != nil {
		a.t.Fatalf("%v", err)
	}
}

// Dir is the scratch directory of the test, or "" when no scope asked
// for one.
func (a *Args) Dir() string {
	return a.dir
}

// Recorder is the log recorder of the test, or nil when no scope records
// logs.
func (a *Args) Recorder() LogRecorder {
	if a.recorder == nil {
		return nil
	}
	return a.recorder
}

func (a *Args) String() string {
	return fmt.Sprintf("Args{dir: %q, fixtures: %q, recorder: %t}", a.dir, a.fixtures, a.recorder != nil)
}
