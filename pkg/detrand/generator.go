/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package detrand replaces the process-wide source of random bytes with a
// deterministic one.  Bytes are derived from a seed and the identity of the
// code requesting them, rather than from a single global sequence, so the
// output seen by one dependency does not depend on how often unrelated code
// asked for randomness before it.
package detrand

import (
	"crypto/sha256"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// unsetCounter is the textual counter used in reseed mode.
const unsetCounter = "null"

// Config parameterizes a Generator.
type Config struct {
	// Seed keys every derived byte. It must not be empty.
	Seed string

	// Reseed makes every request from one origin for one size return the
	// same bytes, instead of a fresh value per call.
	Reseed bool

	// Resolver identifies the caller. Defaults to a StackResolver.
	Resolver OriginResolver
}

func (c Config) validate() error {
	if c.Seed == "" {
		return errors.Errorf("seed must not be empty")
	}
	return nil
}

// Generator produces deterministic bytes keyed by call origin.
type Generator struct {
	seed     string
	reseed   bool
	resolver OriginResolver

	mutex  sync.Mutex
	counts map[string]uint64
}

func NewGenerator(cfg Config) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = &StackResolver{}
	}

	return &Generator{
		seed:     cfg.Seed,
		reseed:   cfg.Reseed,
		resolver: resolver,
		counts:   map[string]uint64{},
	}, nil
}

// Key is the CallOrigin of a request: the origin path and the requested size.
func Key(origin string, size int) string {
	return origin + "@" + strconv.Itoa(size)
}

// Bytes returns n deterministic bytes for the current caller.
func (g *Generator) Bytes(n int) []byte {
	return g.generate(g.resolver.Resolve(), n)
}

// Read fills p, so a Generator can stand in for crypto/rand.Reader.
func (g *Generator) Read(p []byte) (int, error) {
	copy(p, g.generate(g.resolver.Resolve(), len(p)))
	return len(p), nil
}

// BytesCallback delivers n bytes through cb, synchronously.
func (g *Generator) BytesCallback(n int, cb func([]byte, error)) {
	cb(g.generate(g.resolver.Resolve(), n), nil)
}

// Counts returns a copy of the execution counters, keyed by CallOrigin.
func (g *Generator) Counts() map[string]uint64 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	result := make(map[string]uint64, len(g.counts))
	for k, v := range g.counts {
		result[k] = v
	}
	return result
}

func (g *Generator) generate(origin string, n int) []byte {
	key := Key(origin, n)
	return Derive(g.seed, key, g.next(key), n)
}

func (g *Generator) next(key string) string {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.reseed {
		g.counts[key] = 0
		return unsetCounter
	}

	g.counts[key]++
	return strconv.FormatUint(g.counts[key], 10)
}

// Derive computes n bytes from sha256(seed || key || counter), extended by
// appending the hash of the whole buffer until it is long enough.
func Derive(seed, key, counter string, n int) []byte {
	if n <= 0 {
		return []byte{}
	}

	h := sha256.New()
	h.Write([]byte(seed))
	h.Write([]byte(key))
	h.Write([]byte(counter))
	result := h.Sum(nil)

	for len(result) < n {
		next := sha256.Sum256(result)
		result = append(result, next[:]...)
	}

	return result[:n]
}
