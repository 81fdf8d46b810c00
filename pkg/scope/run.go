/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package scope

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hyperledger-labs/testscope/pkg/clock"
	"github.com/hyperledger-labs/testscope/pkg/detrand"
	"github.com/hyperledger-labs/testscope/pkg/envvars"
	"github.com/hyperledger-labs/testscope/pkg/logrecorder"
	"github.com/hyperledger-labs/testscope/pkg/netcapture"
)

// Phase is the lifecycle state of a running scope.
type Phase int

const (
	PhaseDeclared Phase = iota
	PhaseBeforeRunning
	PhaseActive
	PhaseAfterRunning
	PhaseTornDown
)

func (p Phase) String() string {
	switch p {
	case PhaseDeclared:
		return "declared"
	case PhaseBeforeRunning:
		return "before-running"
	case PhaseActive:
		return "active"
	case PhaseAfterRunning:
		return "after-running"
	case PhaseTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// NetworkInterceptor is the contract a scope drives for network capture.
type NetworkInterceptor interface {
	Inject(ctx context.Context, cassette string) error
	Release() error
	Shutdown() error
}

type runner struct {
	settings Settings
	logger   zerolog.Logger
}

// releaser undoes one installation step.
type releaser struct {
	name string
	fn   func() error
}

type releasers []releaser

func (rs *releasers) push(name string, fn func() error) {
	*rs = append(*rs, releaser{name: name, fn: fn})
}

// unwind runs every releaser in reverse order.  Failures are reported and
// do not stop later releases, even when a releaser ends the test.
func (rs *releasers) unwind(t T, logger zerolog.Logger) {
	t.Helper()
	items := *rs
	*rs = nil
	for _, r := range items {
		r := r
		defer func() {
			if err := r.fn(); err != nil {
				t.Errorf("could not release %s: %v", r.name, err)
				return
			}
			logger.Debug().Str("resource", r.name).Msg("released")
		}()
	}
}

// state is a Suite while it runs.
type state struct {
	suite   *Suite
	parent  *state
	phase   Phase
	timeout time.Duration
	logger  zerolog.Logger

	network NetworkInterceptor
	release releasers
}

func (st *state) outermost() bool {
	return st.parent == nil
}

// chain returns the running scopes from the outermost to st.
func (st *state) chain() []*state {
	if st == nil {
		return nil
	}
	return append(st.parent.chain(), st)
}

func (st *state) enter(phase Phase) {
	st.phase = phase
	st.logger.Debug().Str("phase", phase.String()).Msg("scope")
}

func (r *runner) runSuite(t T, s *Suite, parent *state) {
	t.Helper()

	st := &state{
		suite:  s,
		parent: parent,
		phase:  PhaseDeclared,
		logger: r.logger.With().Str("scope", t.Name()).Logger(),
	}
	if parent != nil {
		st.timeout = parent.timeout
	}
	if s.options.ScopeTimeout > 0 {
		st.timeout = s.options.ScopeTimeout
	}

	defer func() {
		st.release.unwind(t, st.logger)
		st.enter(PhaseTornDown)
	}()

	st.enter(PhaseBeforeRunning)

	// After hooks also run when setup fails part way, ahead of the releases.
	defer func() {
		if st.phase < PhaseBeforeRunning || st.phase >= PhaseAfterRunning {
			return
		}
		st.enter(PhaseAfterRunning)
		for _, fn := range s.after {
			fn(t)
		}
	}()

	if err := r.install(st); err != nil {
		t.Fatalf("scope %q: %v", s.name, err)
	}

	for _, fn := range s.before {
		fn(t)
	}
	st.enter(PhaseActive)

	for _, c := range s.children {
		switch {
		case c.test != nil:
			tc := c.test
			t.Run(tc.name, func(t T) {
				r.runTest(t, st, tc)
			})
		case c.suite != nil:
			nested := c.suite
			t.Run(nested.name, func(t T) {
				r.runSuite(t, nested, st)
			})
		}
	}
}

// install sets up the scope level interceptors.  Every completed step is
// pushed onto the release stack of st.
func (r *runner) install(st *state) error {
	opts := st.suite.options

	if st.outermost() {
		if _, err := os.Stat(opts.EnvVarsFile); err == nil {
			vars, err := envvars.LoadFile(opts.EnvVarsFile)
			if err != nil {
				return err
			}
			interceptor := envvars.New(vars)
			if err := interceptor.Apply(); err != nil {
				return errors.WithMessagef(err, "could not apply %s", opts.EnvVarsFile)
			}
			st.release.push("env file", interceptor.Unapply)
		}
	}

	if opts.EnvVars != nil {
		interceptor := envvars.New(opts.EnvVars)
		if err := interceptor.Apply(); err != nil {
			return errors.WithMessage(err, "could not apply env vars")
		}
		st.release.push("env vars", interceptor.Unapply)
	}

	if opts.FixedTimestamp != nil {
		interceptor := clock.NewInterceptor(clock.FromUnix(*opts.FixedTimestamp))
		if err := interceptor.Inject(); err != nil {
			return errors.WithMessage(err, "could not pin the clock")
		}
		st.release.push("clock", interceptor.Release)
	}

	if opts.RandomSeed != "" {
		source, err := detrand.New(detrand.Config{
			Seed:   opts.RandomSeed,
			Reseed: opts.ReseedRandom,
		})
		if err != nil {
			return err
		}
		if err := source.Inject(); err != nil {
			return errors.WithMessage(err, "could not seed randomness")
		}
		st.release.push("random", source.Release)
	}

	if opts.UseNetworkCapture {
		logger := st.logger
		recorder, err := netcapture.New(netcapture.Config{
			Folder:  opts.NetworkCassetteFolder,
			Backend: opts.NetworkCassetteBackend,
			Heal:    r.settings.NetHeal,
			Logger:  &logger,
		})
		if err != nil {
			return err
		}
		st.network = recorder
		st.release.push("network", recorder.Shutdown)
	}

	return nil
}

func (r *runner) runTest(t T, st *state, tc *testCase) {
	t.Helper()

	ctx := context.Background()
	if st.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.timeout)
		defer cancel()
	}

	args := &Args{
		t:        t,
		ctx:      ctx,
		fixtures: st.suite.options.FixtureFolder,
	}

	var release releasers
	defer release.unwind(t, st.logger)

	cassette := CassetteName(append(st.suite.path(), tc.name)...)

	for _, level := range st.chain() {
		opts := level.suite.options

		if opts.UseScratchDir {
			dir, err := os.MkdirTemp("", "testscope-")
			if err != nil {
				t.Fatalf("could not create scratch dir: %v", err)
			}
			args.dir = dir
			release.push("scratch dir", func() error {
				return os.RemoveAll(dir)
			})
		}

		if level.network != nil {
			network := level.network
			if err := network.Inject(ctx, cassette); err != nil {
				t.Fatalf("could not inject cassette %q: %v", cassette, err)
			}
			release.push("cassette "+cassette, network.Release)
		}

		if opts.RecordLogsTo != nil {
			recorder := logrecorder.New(opts.RecordLogsTo, r.settings.Verbose)
			if err := recorder.Inject(); err != nil {
				t.Fatalf("could not record logs: %v", err)
			}
			args.recorder = recorder
			release.push("log recorder", recorder.Release)
		}

		for _, fn := range level.suite.beforeEach {
			fn(t, args)
		}

		hooks := level.suite.afterEach
		for i := len(hooks) - 1; i >= 0; i-- {
			fn := hooks[i]
			release.push("afterEach", func() error {
				fn(t, args)
				return nil
			})
		}
	}

	tc.fn(t, args)

	if errors.Cause(ctx.Err()) == context.DeadlineExceeded {
		t.Errorf("test exceeded the scope timeout of %s", st.timeout)
	}
}
