/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package fixture locates and decodes test fixture files.  A fixture is
// addressed by name, with or without its extension.
package fixture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

var (
	ErrNotFound  = errors.New("fixture not found")
	ErrAmbiguous = errors.New("fixture name is ambiguous")
)

// Find returns the path of the fixture name in folder: the file of that
// exact name, or else the only file named "<name>.<ext>".
func Find(folder, name string) (string, error) {
	exact := filepath.Join(folder, name)
	if info, err := os.Stat(exact); err == nil && !info.IsDir() {
		return exact, nil
	}

	dir, base := filepath.Split(exact)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", errors.WithMessagef(ErrNotFound, "%q in %s", name, folder)
	}
	if err != nil {
		return "", errors.WithMessagef(err, "could not list %s", dir)
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), base+".") {
			continue
		}
		candidates = append(candidates, filepath.Join(dir, entry.Name()))
	}

	switch len(candidates) {
	case 0:
		return "", errors.WithMessagef(ErrNotFound, "%q in %s", name, folder)
	case 1:
		return candidates[0], nil
	default:
		return "", errors.WithMessagef(ErrAmbiguous, "%q matches %s", name, strings.Join(candidates, ", "))
	}
}

// Read returns the raw content of a fixture.
func Read(folder, name string) ([]byte, error) {
	path, err := Find(folder, name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not read fixture %q", name)
	}
	return data, nil
}

// Decode unmarshals a fixture into v according to its extension: JSON for
// .json, YAML for .yml and .yaml.  Any other file may only be decoded into
// a *string or *[]byte.
func Decode(folder, name string, v interface{}) error {
	path, err := Find(folder, name)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithMessagef(err, "could not read fixture %q", name)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, v)
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, v)
	default:
		switch t := v.(type) {
		case *string:
			*t = string(data)
		case *[]byte:
			*t = data
		default:
			err = errors.Errorf("no decoder for %s into %T", filepath.Base(path), v)
		}
	}

	return errors.WithMessagef(err, "could not decode fixture %q", name)
}
