/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package detrand

import (
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

// maxStackDepth bounds the number of frames inspected per request.
const maxStackDepth = 64

// OriginResolver identifies the code that is asking for random bytes.  An
// empty origin is valid; all such requests then share one key.
type OriginResolver interface {
	Resolve() string
}

// StaticResolver always resolves to the same origin.
type StaticResolver string

func (s StaticResolver) Resolve() string {
	return string(s)
}

// ResolverFunc adapts a function to an OriginResolver.
type ResolverFunc func() string

func (f ResolverFunc) Resolve() string {
	return f()
}

// StackResolver finds the dependency that requested randomness by walking
// the call stack.  Frames of this package and of the standard library are
// ignored.  The remaining frames must start with a block of dependency
// frames; the outermost frame of that block, the one called by
// non-dependency code, is the origin.
type StackResolver struct {
	// Dependency reports whether file belongs to a third-party module and
	// returns its module-relative path.  Defaults to DependencyPath.
	Dependency func(file string) (string, bool)
}

func (r *StackResolver) Resolve() string {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2, pcs)
	if n == 0 {
		return ""
	}

	var frames []runtime.Frame
	iter := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := iter.Next()
		frames = append(frames, frame)
		if !more {
			break
		}
	}

	return r.Origin(frames)
}

// Origin computes the origin from frames ordered innermost first.
func (r *StackResolver) Origin(frames []runtime.Frame) string {
	dependency := r.Dependency
	if dependency == nil {
		dependency = DependencyPath
	}

	var relevant []runtime.Frame
	for _, frame := range frames {
		if transparent(frame.Function) {
			continue
		}
		relevant = append(relevant, frame)
	}

	if len(relevant) == 0 {
		return ""
	}

	if _, ok := dependency(relevant[0].File); !ok {
		// requested directly by non-dependency code
		return ""
	}

	for i := 1; i < len(relevant); i++ {
		if _, ok := dependency(relevant[i].File); !ok {
			origin, _ := dependency(relevant[i-1].File)
			return origin
		}
	}

	return ""
}

var (
	ownPackage = packageOf(runtime.FuncForPC(reflect.ValueOf(Derive).Pointer()).Name())

	// <module>@<version>/<path within module>
	moduleFilePattern = regexp.MustCompile(`^(.+?)@v[^/]+/(.+)$`)
)

// DependencyPath reports whether file lives in the module cache or a vendor
// directory, and returns "<module path>/<path within module>" without the
// module version.
func DependencyPath(file string) (string, bool) {
	file = filepath.ToSlash(file)

	if i := strings.LastIndex(file, "/vendor/"); i >= 0 {
		return file[i+len("/vendor/"):], true
	}

	if i := strings.Index(file, "/pkg/mod/"); i >= 0 {
		file = file[i+len("/pkg/mod/"):]
	}

	m := moduleFilePattern.FindStringSubmatch(file)
	if m == nil {
		return "", false
	}

	return m[1] + "/" + m[2], true
}

// transparent frames are skipped when looking for the origin: frames of
// this package, the standard library, and frames without symbol data.
func transparent(function string) bool {
	if function == "" {
		return true
	}

	pkg := packageOf(function)
	if pkg == ownPackage {
		return true
	}

	if pkg == "main" {
		return false
	}

	first := pkg
	if i := strings.Index(pkg, "/"); i >= 0 {
		first = pkg[:i]
	}

	return !strings.Contains(first, ".")
}

// packageOf extracts the import path from a fully qualified function name
// such as "github.com/google/uuid.NewRandom" or "io.ReadFull".
func packageOf(function string) string {
	slash := strings.LastIndex(function, "/")
	if slash < 0 {
		slash = 0
	}

	dot := strings.Index(function[slash:], ".")
	if dot < 0 {
		return function
	}

	return function[:slash+dot]
}
