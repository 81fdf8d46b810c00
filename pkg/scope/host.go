/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package scope

import (
	"testing"
)

// T is the host test framework as seen by a scope.  *testing.T satisfies
// it through Testing.
type T interface {
	Name() string
	Helper()
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Failed() bool

	// Run executes fn as a named subtest and reports whether it passed.
	Run(name string, fn func(t T)) bool
}

type testingT struct {
	*testing.T
}

// Testing adapts a *testing.T.
func Testing(t *testing.T) T {
	return testingT{T: t}
}

func (tt testingT) Run(name string, fn func(t T)) bool {
	return tt.T.Run(name, func(t *testing.T) {
		fn(Testing(t))
	})
}
