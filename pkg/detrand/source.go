/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package detrand

import (
	"crypto/rand"
	"io"

	"github.com/google/uuid"

	"github.com/hyperledger-labs/testscope/pkg/override"
)

// Source installs a Generator as the process-wide source of random bytes:
// crypto/rand.Reader, and the reader github.com/google/uuid captured from it
// at init time.
type Source struct {
	generator *Generator
	slot      *override.Slot[io.Reader]
	token     *override.Token
}

// Opt configures a Source.
type Opt interface{}

type registryOpt struct {
	registry *override.Registry
}

// RegistryOpt overrides the registry the randomness capability is held in.
func RegistryOpt(registry *override.Registry) Opt {
	return registryOpt{registry: registry}
}

func New(cfg Config, opts ...Opt) (*Source, error) {
	generator, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}

	registry := override.Default
	for _, opt := range opts {
		switch v := opt.(type) {
		case registryOpt:
			registry = v.registry
		}
	}

	return &Source{
		generator: generator,
		slot:      override.NewSlot(registry, override.Random, currentReader, setReader),
	}, nil
}

func currentReader() io.Reader {
	return rand.Reader
}

func setReader(r io.Reader) {
	rand.Reader = r
	uuid.SetRand(r)
}

// Inject replaces the random source.  It fails if any random source
// override is already active.
func (s *Source) Inject() error {
	token, err := s.slot.Install(s.generator)
	if err != nil {
		return err
	}
	s.token = token
	return nil
}

// Release restores the original random source.
func (s *Source) Release() error {
	if err := s.slot.Restore(s.token); err != nil {
		return err
	}
	s.token = nil
	return nil
}

func (s *Source) IsInjected() bool {
	return s.slot.Installed()
}

func (s *Source) Generator() *Generator {
	return s.generator
}
