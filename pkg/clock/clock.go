/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package clock is the process notion of the current time.  Code that
// should observe a pinned time during tests reads Now from here instead of
// calling time.Now directly.
package clock

import (
	"math"
	"sync"
	"time"

	"github.com/hyperledger-labs/testscope/pkg/override"
)

var (
	mutex  sync.RWMutex
	source = time.Now
)

// Now returns the current time, or the pinned instant while an
// Interceptor is injected.
func Now() time.Time {
	mutex.RLock()
	defer mutex.RUnlock()
	return source()
}

func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

func Until(t time.Time) time.Duration {
	return t.Sub(Now())
}

func getSource() func() time.Time {
	mutex.RLock()
	defer mutex.RUnlock()
	return source
}

func setSource(f func() time.Time) {
	mutex.Lock()
	defer mutex.Unlock()
	source = f
}

// FromUnix converts fractional unix seconds to a time.
func FromUnix(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9)))
}

// Interceptor pins Now to a fixed instant.
type Interceptor struct {
	at    time.Time
	slot  *override.Slot[func() time.Time]
	token *override.Token
}

func NewInterceptor(at time.Time) *Interceptor {
	return NewInterceptorWithRegistry(at, override.Default)
}

func NewInterceptorWithRegistry(at time.Time, registry *override.Registry) *Interceptor {
	return &Interceptor{
		at:   at,
		slot: override.NewSlot(registry, override.Clock, getSource, setSource),
	}
}

func (i *Interceptor) Inject() error {
	at := i.at
	token, err := i.slot.Install(func() time.Time { return at })
	if err != nil {
		return err
	}
	i.token = token
	return nil
}

func (i *Interceptor) Release() error {
	if err := i.slot.Restore(i.token); err != nil {
		return err
	}
	i.token = nil
	return nil
}

func (i *Interceptor) IsInjected() bool {
	return i.slot.Installed()
}

func (i *Interceptor) At() time.Time {
	return i.at
}
