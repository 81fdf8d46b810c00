/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package scope

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/hyperledger-labs/testscope/pkg/logrecorder"
	"github.com/hyperledger-labs/testscope/pkg/netcapture"
)

// FilenamePlaceholder in a path expands to the base name of the test file
// which declared the scope.
const FilenamePlaceholder = "$FILENAME"

const (
	DefaultNetworkCassetteFolder = FilenamePlaceholder + "__cassettes"
	DefaultFixtureFolder         = FilenamePlaceholder + "__fixtures"
	DefaultEnvVarsFile           = FilenamePlaceholder + ".env.yml"
)

// Options declares which interceptors a scope installs.  The zero value
// installs nothing.  Relative paths are resolved against the directory of
// the declaring test file.
type Options struct {
	// UseScratchDir gives every test a fresh temporary directory.
	UseScratchDir bool

	// UseNetworkCapture replays HTTP traffic of every test from a cassette.
	UseNetworkCapture bool

	NetworkCassetteFolder string

	// NetworkCassetteBackend is "file" (default) or "badger".
	NetworkCassetteBackend string

	FixtureFolder string

	// EnvVarsFile is applied by the outermost scope only, when it exists.
	EnvVarsFile string

	EnvVars map[string]string

	// FixedTimestamp pins the clock, in unix seconds.
	FixedTimestamp *float64

	// RecordLogsTo captures one log target per test.
	RecordLogsTo logrecorder.Target

	// RandomSeed makes crypto/rand and uuid deterministic.
	RandomSeed string

	ReseedRandom bool

	// ScopeTimeout bounds each test body.  Nested scopes inherit it.  The
	// deadline is set on Args.Context and checked when the body returns;
	// a body which ignores the context is not interrupted and is bounded
	// only by the -timeout of go test.
	ScopeTimeout time.Duration
}

// Timestamp is a helper for Options.FixedTimestamp.
func Timestamp(unix float64) *float64 {
	return &unix
}

func (o Options) Validate() error {
	if o.FixedTimestamp != nil && *o.FixedTimestamp < 0 {
		return errors.Errorf("fixed timestamp must not be negative, got %v", *o.FixedTimestamp)
	}

	if o.ScopeTimeout < 0 {
		return errors.Errorf("scope timeout must not be negative, got %s", o.ScopeTimeout)
	}

	switch o.NetworkCassetteBackend {
	case "", netcapture.BackendFile, netcapture.BackendBadger:
	default:
		return errors.Errorf("unknown network cassette backend %q", o.NetworkCassetteBackend)
	}

	if o.ReseedRandom && o.RandomSeed == "" {
		return errors.Errorf("reseeding requires a random seed")
	}

	for name := range o.EnvVars {
		if name == "" || strings.ContainsAny(name, "=\x00") {
			return errors.Errorf("invalid environment variable name %q", name)
		}
	}

	return nil
}

// resolved fills in default paths and expands them relative to file.
func (o Options) resolved(file string) Options {
	if o.NetworkCassetteFolder == "" {
		o.NetworkCassetteFolder = DefaultNetworkCassetteFolder
	}
	if o.FixtureFolder == "" {
		o.FixtureFolder = DefaultFixtureFolder
	}
	if o.EnvVarsFile == "" {
		o.EnvVarsFile = DefaultEnvVarsFile
	}

	o.NetworkCassetteFolder = resolvePath(file, o.NetworkCassetteFolder)
	o.FixtureFolder = resolvePath(file, o.FixtureFolder)
	o.EnvVarsFile = resolvePath(file, o.EnvVarsFile)

	return o
}

func resolvePath(file, name string) string {
	name = strings.ReplaceAll(name, FilenamePlaceholder, filepath.Base(file))
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(filepath.Dir(file), name)
}

// optionsFile is the YAML form of Options.
type optionsFile struct {
	UseScratchDir          bool              `yaml:"useScratchDir"`
	UseNetworkCapture      bool              `yaml:"useNetworkCapture"`
	NetworkCassetteFolder  string            `yaml:"networkCassetteFolder"`
	NetworkCassetteBackend string            `yaml:"networkCassetteBackend"`
	FixtureFolder          string            `yaml:"fixtureFolder"`
	EnvVarsFile            string            `yaml:"envVarsFile"`
	EnvVars                map[string]string `yaml:"envVars"`
	FixedTimestamp         *float64          `yaml:"fixedTimestamp"`
	RecordLogsTo           string            `yaml:"recordLogsTo"`
	RandomSeed             string            `yaml:"randomSeed"`
	ReseedRandom           bool              `yaml:"reseedRandom"`
	ScopeTimeoutMs         *float64          `yaml:"scopeTimeoutMs"`
}

// ParseOptions reads options from YAML.  Unknown keys are rejected, and
// recordLogsTo names a log target ("logging", "zerolog" or "zap").
func ParseOptions(data []byte) (Options, error) {
	var f optionsFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return Options{}, errors.WithMessage(err, "bad options provided")
	}

	o := Options{
		UseScratchDir:          f.UseScratchDir,
		UseNetworkCapture:      f.UseNetworkCapture,
		NetworkCassetteFolder:  f.NetworkCassetteFolder,
		NetworkCassetteBackend: f.NetworkCassetteBackend,
		FixtureFolder:          f.FixtureFolder,
		EnvVarsFile:            f.EnvVarsFile,
		EnvVars:                f.EnvVars,
		FixedTimestamp:         f.FixedTimestamp,
		RandomSeed:             f.RandomSeed,
		ReseedRandom:           f.ReseedRandom,
	}

	if f.RecordLogsTo != "" {
		target, err := logrecorder.TargetByName(f.RecordLogsTo)
		if err != nil {
			return Options{}, errors.WithMessage(err, "bad options provided")
		}
		o.RecordLogsTo = target
	}

	if f.ScopeTimeoutMs != nil {
		o.ScopeTimeout = time.Duration(*f.ScopeTimeoutMs * float64(time.Millisecond))
	}

	if err := o.Validate(); err != nil {
		return Options{}, errors.WithMessage(err, "bad options provided")
	}

	return o, nil
}

// LoadOptions reads options from a YAML file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.WithMessage(err, "could not read options")
	}
	return ParseOptions(data)
}
