/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package override tracks which process-wide primitives are currently
// replaced by a test scope. Every interceptor in this module installs its
// replacement through a Slot, and every Slot holds its capability in a
// Registry for as long as the replacement is active. A capability may be
// held by at most one owner at a time; the Token returned on acquisition
// is the only way to give it back.
package override

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyInstalled is returned when a capability is acquired while
	// another owner still holds it.
	ErrAlreadyInstalled = errors.New("capability is already overridden")

	// ErrNotInstalled is returned when releasing or restoring something
	// that was never installed.
	ErrNotInstalled = errors.New("capability is not overridden")

	// ErrForeignToken is returned when a token is presented for a
	// capability it does not currently own.
	ErrForeignToken = errors.New("token does not own the capability")
)

// Capability names a process-wide primitive which may be overridden.
type Capability string

const (
	Random  Capability = "random"
	Clock   Capability = "clock"
	Network Capability = "network"
)

// EnvVar is the capability of a single environment variable.
func EnvVar(name string) Capability {
	return Capability("env:" + name)
}

// Logs is the capability of a named log emission point.
func Logs(target string) Capability {
	return Capability("logs:" + target)
}

// Token proves ownership of a capability.
type Token struct {
	capability Capability
	registry   *Registry
	id         uint64
}

func (t *Token) Capability() Capability {
	return t.capability
}

type Registry struct {
	mutex  sync.Mutex
	held   map[Capability]*Token
	nextID uint64
}

func NewRegistry() *Registry {
	return &Registry{
		held: map[Capability]*Token{},
	}
}

// Default is the registry of the process-wide primitives.
var Default = NewRegistry()

// Acquire grants exclusive ownership of c.
func (r *Registry) Acquire(c Capability) (*Token, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.held[c]; ok {
		return nil, errors.WithMessagef(ErrAlreadyInstalled, "cannot acquire %q", c)
	}

	r.nextID++
	token := &Token{
		capability: c,
		registry:   r,
		id:         r.nextID,
	}
	r.held[c] = token

	return token, nil
}

// Release gives the capability owned by t back to the registry.  A token
// may only be released once.
func (r *Registry) Release(t *Token) error {
	if t == nil {
		return errors.WithMessage(ErrNotInstalled, "cannot release nil token")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	current, ok := r.held[t.capability]
	if !ok {
		return errors.WithMessagef(ErrNotInstalled, "cannot release %q", t.capability)
	}

	if t.registry != r || current != t {
		return errors.WithMessagef(ErrForeignToken, "cannot release %q", t.capability)
	}

	delete(r.held, t.capability)

	return nil
}

// Held reports whether c is currently owned.
func (r *Registry) Held(c Capability) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, ok := r.held[c]
	return ok
}

// Owns reports whether t is the current owner of its capability.
func (r *Registry) Owns(t *Token) bool {
	if t == nil {
		return false
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.held[t.capability] == t
}

// HeldCapabilities returns the capabilities currently owned, in no
// particular order.
func (r *Registry) HeldCapabilities() []Capability {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	result := make([]Capability, 0, len(r.held))
	for c := range r.held {
		result = append(result, c)
	}
	return result
}
