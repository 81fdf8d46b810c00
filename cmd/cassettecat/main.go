/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// cassettecat prints the HTTP interactions recorded in cassettes.  It reads
// a single cassette file, or every cassette of a badger backed folder, and
// can filter interactions by method and URL.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/hyperledger-labs/testscope/pkg/cassette"
)

var allMethods = []string{
	"GET",
	"HEAD",
	"POST",
	"PUT",
	"PATCH",
	"DELETE",
	"OPTIONS",
}

type arguments struct {
	input       io.ReadCloser
	badgerDir   string
	names       []string
	methods     []string
	urlContains string
	json        bool
	color       bool
}

// excluded reports whether the filters reject an interaction.
func (a *arguments) excluded(method, url string) bool {
	if a.methods != nil {
		found := false
		for _, m := range a.methods {
			if strings.EqualFold(m, method) {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}

	return a.urlContains != "" && !strings.Contains(url, a.urlContains)
}

func (a *arguments) execute(output io.Writer) error {
	if a.badgerDir == "" {
		defer a.input.Close()
		reader, err := cassette.NewReader(a.input)
		if err != nil {
			return err
		}
		return a.print(output, reader)
	}

	store, err := cassette.OpenBadgerStore(a.badgerDir)
	if err != nil {
		return err
	}
	defer store.Close()

	names := a.names
	if names == nil {
		if names, err = store.Names(); err != nil {
			return errors.WithMessage(err, "could not list cassettes")
		}
	}

	for _, name := range names {
		c, err := store.Load(name)
		if err != nil {
			return err
		}

		data, err := cassette.Marshal(c)
		if err != nil {
			return err
		}

		reader, err := cassette.NewReader(bytes.NewReader(data))
		if err != nil {
			return err
		}

		if err := a.print(output, reader); err != nil {
			return err
		}
	}

	return nil
}

func (a *arguments) print(output io.Writer, reader *cassette.Reader) error {
	for index := 0; ; index++ {
		msg, err := reader.ReadProto()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		interaction, err := cassette.InteractionFromProto(msg)
		if err != nil {
			return errors.WithMessagef(err, "malformed interaction %d of %q", index, reader.Name())
		}

		if a.excluded(interaction.Method, interaction.URL) {
			continue
		}

		if a.json {
			text, err := protojson.Marshal(msg)
			if err != nil {
				return errors.WithMessage(err, "could not marshal interaction")
			}
			fmt.Fprintf(output, "%s\n", text)
			continue
		}

		fmt.Fprintln(output, formatInteraction(reader.Name(), index, &interaction, a.color))
	}
}

func parseArgs(args []string) (*arguments, error) {
	app := kingpin.New("cassettecat", "Utility for reviewing recorded HTTP cassettes.")
	input := app.Flag("input", "The cassette file to read (defaults to stdin).").Default(os.Stdin.Name()).File()
	badgerDir := app.Flag("badger", "Read every cassette of this badger cassette folder instead of --input.").String()
	names := app.Flag("name", "Only print this cassette of the badger folder, may be repeated.").Strings()
	methods := app.Flag("method", "Only print interactions with this method, may be repeated.").Enums(allMethods...)
	urlContains := app.Flag("url-contains", "Only print interactions whose URL contains this text.").String()
	json := app.Flag("json", "Print every interaction as JSON.").Default("false").Bool()
	noColor := app.Flag("noColor", "Do not color the output.").Default("false").Bool()

	_, err := app.Parse(args)
	if err != nil {
		return nil, err
	}

	if *names != nil && *badgerDir == "" {
		return nil, errors.Errorf("cannot select cassettes by --name without --badger")
	}

	return &arguments{
		input:       *input,
		badgerDir:   *badgerDir,
		names:       *names,
		methods:     *methods,
		urlContains: *urlContains,
		json:        *json,
		color:       !*noColor,
	}, nil
}

func main() {
	kingpin.Version("0.0.1")
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}
	err = args.execute(os.Stdout)
	if err != nil {
		fmt.Println("")
		kingpin.Fatalf("%s", err)
	}
}
