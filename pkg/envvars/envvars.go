/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package envvars layers a set of environment variables on top of the
// process environment and removes them again.
package envvars

import (
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/hyperledger-labs/testscope/pkg/override"
)

var (
	// ErrOverwrite is returned when a variable already has a value and
	// overwriting was not allowed.
	ErrOverwrite = errors.New("environment variable is already set")

	ErrNotApplied     = errors.New("environment variables are not applied")
	ErrAlreadyApplied = errors.New("environment variables are already applied")
)

type Opt interface{}

type allowOverwriteOpt struct{}

// AllowOverwriteOpt permits replacing variables which are already set.
func AllowOverwriteOpt() Opt {
	return allowOverwriteOpt{}
}

type registryOpt struct {
	registry *override.Registry
}

func RegistryOpt(registry *override.Registry) Opt {
	return registryOpt{registry: registry}
}

// change is one applied variable.  old is nil when the variable was absent.
type change struct {
	name  string
	old   *string
	token *override.Token
}

type Interceptor struct {
	vars           map[string]string
	allowOverwrite bool
	registry       *override.Registry

	applied []change
	active  bool
}

func New(vars map[string]string, opts ...Opt) *Interceptor {
	i := &Interceptor{
		vars:     map[string]string{},
		registry: override.Default,
	}

	for k, v := range vars {
		i.vars[k] = v
	}

	for _, opt := range opts {
		switch v := opt.(type) {
		case allowOverwriteOpt:
			i.allowOverwrite = true
		case registryOpt:
			i.registry = v.registry
		}
	}

	return i
}

// Names returns the variable names in application order.
func (i *Interceptor) Names() []string {
	names := make([]string, 0, len(i.vars))
	for name := range i.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply sets every variable.  On failure, the variables set so far by
// this call are restored before the error is returned.
func (i *Interceptor) Apply() error {
	if i.active {
		return ErrAlreadyApplied
	}

	for _, name := range i.Names() {
		if err := i.set(name, i.vars[name]); err != nil {
			if unwindErr := i.unwind(); unwindErr != nil {
				return errors.WithMessagef(err, "also failed to unwind: %v", unwindErr)
			}
			return err
		}
	}

	i.active = true
	return nil
}

func (i *Interceptor) set(name, value string) error {
	old, exists := os.LookupEnv(name)
	if exists && !i.allowOverwrite {
		return errors.WithMessagef(ErrOverwrite, "refusing to overwrite %q", name)
	}

	token, err := i.registry.Acquire(override.EnvVar(name))
	if err != nil {
		return err
	}

	if err := os.Setenv(name, value); err != nil {
		err = errors.WithMessagef(err, "could not set %q", name)
		if releaseErr := i.registry.Release(token); releaseErr != nil {
			return errors.WithMessagef(err, "releasing failed too: %v", releaseErr)
		}
		return err
	}

	c := change{name: name, token: token}
	if exists {
		c.old = &old
	}
	i.applied = append(i.applied, c)

	return nil
}

// Unapply restores every variable in reverse order of application,
// unsetting those that did not exist before.
func (i *Interceptor) Unapply() error {
	if !i.active {
		return ErrNotApplied
	}
	i.active = false
	return i.unwind()
}

func (i *Interceptor) unwind() error {
	var firstErr error
	for j := len(i.applied) - 1; j >= 0; j-- {
		c := i.applied[j]

		var err error
		if c.old == nil {
			err = os.Unsetenv(c.name)
		} else {
			err = os.Setenv(c.name, *c.old)
		}
		if err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "could not restore %q", c.name)
		}

		if err := i.registry.Release(c.token); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	i.applied = nil
	return firstErr
}

func (i *Interceptor) Applied() bool {
	return i.active
}
