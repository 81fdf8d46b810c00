/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package override

import (
	"sync"

	"github.com/pkg/errors"
)

// Slot installs one replacement value for a global and remembers the
// original so it can be put back.  The global itself is only ever touched
// through the get and set functions.
type Slot[T any] struct {
	capability Capability
	registry   *Registry
	get        func() T
	set        func(T)

	mutex    sync.Mutex
	token    *Token
	original T
}

func NewSlot[T any](registry *Registry, capability Capability, get func() T, set func(T)) *Slot[T] {
	if registry == nil {
		registry = Default
	}

	return &Slot[T]{
		capability: capability,
		registry:   registry,
		get:        get,
		set:        set,
	}
}

// Install captures the current value and replaces it with value.
func (s *Slot[T]) Install(value T) (*Token, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.token != nil {
		return nil, errors.WithMessagef(ErrAlreadyInstalled, "slot %q", s.capability)
	}

	token, err := s.registry.Acquire(s.capability)
	if err != nil {
		return nil, err
	}

	s.original = s.get()
	s.set(value)
	s.token = token

	return token, nil
}

// Restore puts the captured value back and clears the capture.
func (s *Slot[T]) Restore(token *Token) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.token == nil {
		return errors.WithMessagef(ErrNotInstalled, "slot %q", s.capability)
	}

	if token != s.token {
		return errors.WithMessagef(ErrForeignToken, "slot %q", s.capability)
	}

	if err := s.registry.Release(token); err != nil {
		return err
	}

	s.set(s.original)

	var zero T
	s.original = zero
	s.token = nil

	return nil
}

// Original returns the captured value while installed.
func (s *Slot[T]) Original() (T, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.original, s.token != nil
}

func (s *Slot[T]) Installed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.token != nil
}

func (s *Slot[T]) Capability() Capability {
	return s.capability
}
