/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package netcapture replays outbound HTTP traffic from cassettes.  While a
// cassette is injected, http.DefaultTransport answers requests from the
// recorded interactions.  In heal mode, requests without a recording are
// sent upstream and the cassette is rewritten to match what was observed.
package netcapture

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hyperledger-labs/testscope/pkg/cassette"
	"github.com/hyperledger-labs/testscope/pkg/override"
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

var (
	// ErrUnmatched is returned for a request without recorded interaction.
	ErrUnmatched = errors.New("no recorded interaction matches request")

	// ErrUnused is reported on release when recorded interactions were
	// never requested.
	ErrUnused = errors.New("recorded interactions were not used")
)

type Config struct {
	// Folder holds the cassettes; a badger backend opens its database here.
	Folder string

	// Backend is BackendFile (default) or BackendBadger.
	Backend string

	// Heal forwards unmatched requests upstream and rewrites the cassette.
	Heal bool

	// Lenient disables failing on unmatched requests and unused
	// interactions.  Unmatched requests then go upstream unrecorded.
	Lenient bool

	// StripHeaders are response headers which are never recorded.
	StripHeaders []string

	// RetryMax bounds upstream retries in heal mode.
	RetryMax int

	// Store replaces the store built from Folder and Backend.
	Store cassette.Store

	Logger *zerolog.Logger
}

type Opt interface{}

type registryOpt struct {
	registry *override.Registry
}

// RegistryOpt overrides the registry the network capability is held in.
func RegistryOpt(registry *override.Registry) Opt {
	return registryOpt{registry: registry}
}

// Recorder implements the network interceptor of a scope: one Recorder per
// scope, one cassette per test.
type Recorder struct {
	config Config
	logger zerolog.Logger
	store  cassette.Store
	slot   *override.Slot[http.RoundTripper]

	mutex    sync.Mutex
	session  *session
	upstream http.RoundTripper
	journal  *cassette.Journal
}

type session struct {
	ctx      context.Context
	token    *override.Token
	cassette *cassette.Cassette
	used     []bool
	served   []cassette.Interaction
	healed   bool

	unmatched []string
}

func New(cfg Config, opts ...Opt) (*Recorder, error) {
	registry := override.Default
	for _, opt := range opts {
		switch v := opt.(type) {
		case registryOpt:
			registry = v.registry
		}
	}

	store := cfg.Store
	if store == nil {
		switch cfg.Backend {
		case "", BackendFile:
			store = cassette.NewFileStore(cfg.Folder)
		case BackendBadger:
			var err error
			store, err = cassette.OpenBadgerStore(cfg.Folder)
			if err != nil {
				return nil, err
			}
		default:
			return nil, errors.Errorf("unknown cassette backend %q", cfg.Backend)
		}
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Recorder{
		config: cfg,
		logger: logger.With().Str("component", "netcapture").Logger(),
		store:  store,
		slot: override.NewSlot(registry, override.Network,
			func() http.RoundTripper { return http.DefaultTransport },
			func(rt http.RoundTripper) { http.DefaultTransport = rt },
		),
	}, nil
}

// Inject loads the named cassette and starts answering requests from it.
// A missing cassette is treated as empty.
func (r *Recorder) Inject(ctx context.Context, name string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.session != nil {
		return errors.WithMessagef(override.ErrAlreadyInstalled, "cassette %q is active", r.session.cassette.Name)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	c, err := r.store.Load(name)
	if errors.Cause(err) == cassette.ErrNotFound {
		c = cassette.New(name)
	} else if err != nil {
		return err
	}

	token, err := r.slot.Install(&transport{recorder: r})
	if err != nil {
		return err
	}

	original, _ := r.slot.Original()
	r.upstream = r.newUpstream(original)

	r.session = &session{
		ctx:      ctx,
		token:    token,
		cassette: c,
		used:     make([]bool, len(c.Interactions)),
	}

	r.logger.Debug().Str("cassette", name).Int("interactions", len(c.Interactions)).Msg("injected")

	return nil
}

func (r *Recorder) newUpstream(original http.RoundTripper) http.RoundTripper {
	if !r.config.Heal {
		return original
	}

	client := retryablehttp.NewClient()
	client.HTTPClient.Transport = original
	client.Logger = nil
	client.RetryMax = r.config.RetryMax
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &retryablehttp.RoundTripper{Client: client}
}

// Release stops answering requests.  In strict mode it reports unmatched
// requests and unused interactions; in heal mode it journals the observed
// interactions when they differ from the recording.
func (r *Recorder) Release() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.session == nil {
		return errors.WithMessage(override.ErrNotInstalled, "no cassette is active")
	}

	s := r.session
	if err := r.slot.Restore(s.token); err != nil {
		return err
	}
	r.session = nil
	r.upstream = nil

	name := s.cassette.Name

	if r.config.Heal {
		if !s.healed && len(s.served) == len(s.cassette.Interactions) {
			return nil
		}

		if err := r.openJournal(); err != nil {
			return err
		}

		snapshot := cassette.New(name)
		snapshot.Interactions = s.served
		r.logger.Info().Str("cassette", name).Int("interactions", len(s.served)).Msg("healed")
		return r.journal.Append(snapshot)
	}

	if r.config.Lenient {
		return nil
	}

	if len(s.unmatched) > 0 {
		return errors.WithMessagef(ErrUnmatched, "cassette %q: %s", name, strings.Join(s.unmatched, ", "))
	}

	var unused []string
	for i, used := range s.used {
		if !used {
			interaction := s.cassette.Interactions[i]
			unused = append(unused, interaction.Method+" "+interaction.URL)
		}
	}
	if len(unused) > 0 {
		return errors.WithMessagef(ErrUnused, "cassette %q: %s", name, strings.Join(unused, ", "))
	}

	return nil
}

func (r *Recorder) openJournal() error {
	if r.journal != nil {
		return nil
	}

	dir, err := os.MkdirTemp("", "netcapture-journal")
	if err != nil {
		return errors.WithMessage(err, "could not create journal folder")
	}

	journal, err := cassette.OpenJournal(dir)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	r.journal = journal
	return nil
}

// Shutdown persists every healed cassette and closes the store.
func (r *Recorder) Shutdown() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.session != nil {
		return errors.Errorf("cassette %q is still active", r.session.cassette.Name)
	}

	if r.journal != nil {
		healed, err := r.journal.Replay()
		if err != nil {
			return err
		}

		for _, c := range healed {
			if err := r.store.Save(c); err != nil {
				return errors.WithMessagef(err, "could not persist cassette %q", c.Name)
			}
			r.logger.Info().Str("cassette", c.Name).Msg("persisted")
		}

		if err := r.journal.Remove(); err != nil {
			return err
		}
		r.journal = nil
	}

	return r.store.Close()
}

// Active returns the name of the injected cassette.
func (r *Recorder) Active() (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.session == nil {
		return "", false
	}
	return r.session.cassette.Name, true
}

func (r *Recorder) stripped(header http.Header) http.Header {
	if len(header) == 0 {
		return nil
	}

	result := header.Clone()
	for _, h := range r.config.StripHeaders {
		result.Del(h)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
