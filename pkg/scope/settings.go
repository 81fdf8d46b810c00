/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package scope

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/alecthomas/kingpin.v2"
)

// Settings are process-level switches shared by every scope.
type Settings struct {
	// NetHeal puts network capture into heal mode.
	NetHeal bool

	// Verbose forwards recorded log entries to their original output.
	Verbose bool

	// Logger receives lifecycle events of the scopes.
	Logger zerolog.Logger
}

type settingsEnv struct {
	NetHeal  bool   `env:"TESTSCOPE_NET_HEAL"`
	Verbose  bool   `env:"TESTSCOPE_VERBOSE"`
	LogLevel string `env:"TESTSCOPE_LOG_LEVEL" envDefault:"warn"`
}

var flagNames = []string{"net-heal", "verbose"}

// LoadSettings reads the environment, then the --net-heal and --verbose
// flags from args.  Flags take precedence; unrelated arguments are ignored.
func LoadSettings(args []string, logOutput io.Writer) (Settings, error) {
	var e settingsEnv
	if err := env.Parse(&e); err != nil {
		return Settings{}, errors.WithMessage(err, "could not parse environment")
	}

	app := kingpin.New("testscope", "Deterministic test scopes.")
	app.Terminate(func(int) {})
	app.ErrorWriter(io.Discard)
	app.UsageWriter(io.Discard)
	netHeal := app.Flag("net-heal", "Heal network cassettes against the real upstream.").Default(boolString(e.NetHeal)).Bool()
	verbose := app.Flag("verbose", "Forward recorded logs to their original output.").Default(boolString(e.Verbose)).Bool()

	flags, err := knownFlags(args)
	if err != nil {
		return Settings{}, errors.WithMessage(err, "could not parse flags")
	}
	if _, err := app.Parse(flags); err != nil {
		return Settings{}, errors.WithMessage(err, "could not parse flags")
	}

	level, err := zerolog.ParseLevel(e.LogLevel)
	if err != nil {
		return Settings{}, errors.WithMessagef(err, "bad TESTSCOPE_LOG_LEVEL %q", e.LogLevel)
	}

	return Settings{
		NetHeal: *netHeal,
		Verbose: *verbose,
		Logger: zerolog.New(zerolog.ConsoleWriter{Out: logOutput, TimeFormat: "15:04:05.000"}).
			Level(level).
			With().Timestamp().Str("lib", "testscope").
			Logger(),
	}, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// knownFlags keeps the arguments which set one of our flags, so that the
// flags of the test binary and user arguments do not fail parsing.  The
// --flag=value form is rewritten to --flag or --no-flag.
func knownFlags(args []string) ([]string, error) {
	var result []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		negated := strings.HasPrefix(name, "no-")
		name = strings.TrimPrefix(name, "no-")
		if !isFlagName(name) {
			continue
		}

		if hasValue {
			if negated {
				return nil, errors.Errorf("flag %q takes no value", arg)
			}
			set, err := strconv.ParseBool(value)
			if err != nil {
				return nil, errors.Errorf("bad value %q for --%s", value, name)
			}
			negated = !set
		}

		if negated {
			result = append(result, "--no-"+name)
		} else {
			result = append(result, "--"+name)
		}
	}
	return result, nil
}

func isFlagName(name string) bool {
	for _, known := range flagNames {
		if name == known {
			return true
		}
	}
	return false
}

var (
	currentOnce     sync.Once
	currentSettings Settings
)

// CurrentSettings loads the settings of this process once.  Invalid
// settings fall back to the defaults with a warning.
func CurrentSettings() Settings {
	currentOnce.Do(func() {
		settings, err := LoadSettings(os.Args[1:], os.Stderr)
		if err != nil {
			settings = Settings{
				Logger: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger(),
			}
			settings.Logger.Warn().Err(err).Msg("ignoring invalid settings")
		}
		currentSettings = settings
	})
	return currentSettings
}
