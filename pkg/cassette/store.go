/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cassette

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Store.Load for unknown cassettes.
var ErrNotFound = errors.New("cassette not found")

// Store persists cassettes by name.
type Store interface {
	Load(name string) (*Cassette, error)
	Save(c *Cassette) error
	Names() ([]string, error)
	Close() error
}

// Extension is the suffix of cassette files in a FileStore.
const Extension = ".cassette"

// FileStore keeps one file per cassette in a folder.
type FileStore struct {
	folder string
}

func NewFileStore(folder string) *FileStore {
	return &FileStore{folder: folder}
}

func (s *FileStore) Folder() string {
	return s.folder
}

func (s *FileStore) Path(name string) string {
	return filepath.Join(s.folder, name+Extension)
}

func (s *FileStore) Load(name string) (*Cassette, error) {
	f, err := os.Open(s.Path(name))
	if os.IsNotExist(err) {
		return nil, errors.WithMessagef(ErrNotFound, "no file for %q", name)
	}
	if err != nil {
		return nil, errors.WithMessage(err, "could not open cassette")
	}
	defer f.Close()

	c, err := Decode(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not decode cassette %q", name)
	}
	c.Name = name

	return c, nil
}

func (s *FileStore) Save(c *Cassette) error {
	if err := os.MkdirAll(s.folder, 0755); err != nil {
		return errors.WithMessage(err, "could not create cassette folder")
	}

	data, err := Marshal(c)
	if err != nil {
		return err
	}

	tmp := s.Path(c.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.WithMessage(err, "could not write cassette")
	}

	if err := os.Rename(tmp, s.Path(c.Name)); err != nil {
		os.Remove(tmp)
		return errors.WithMessage(err, "could not move cassette into place")
	}

	return nil
}

func (s *FileStore) Names() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.folder, "*"+Extension))
	if err != nil {
		return nil, errors.WithMessage(err, "could not list cassettes")
	}

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = strings.TrimSuffix(filepath.Base(m), Extension)
	}
	sort.Strings(names)

	return names, nil
}

func (s *FileStore) Close() error {
	return nil
}
