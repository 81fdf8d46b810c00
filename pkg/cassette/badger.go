/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cassette

import (
	badger "github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
)

const badgerPrefix = "cassette/"

func badgerKey(name string) []byte {
	return []byte(badgerPrefix + name)
}

// BadgerStore keeps every cassette of a folder in one badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens the database in dirPath, or an in-memory one when
// dirPath is empty.
func OpenBadgerStore(dirPath string) (*BadgerStore, error) {
	var badgerOpts badger.Options
	if dirPath == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(dirPath).WithSyncWrites(false).WithTruncate(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.WithMessage(err, "could not open backing db")
	}

	return &BadgerStore{
		db: db,
	}, nil
}

func (s *BadgerStore) Save(c *Cassette) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(c.Name), data)
	})
}

func (s *BadgerStore) Load(name string) (*Cassette, error) {
	var valCopy []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(name))
		if err != nil {
			return err
		}

		valCopy, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.WithMessagef(ErrNotFound, "no entry for %q", name)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "could not read cassette %q", name)
	}

	c, err := Unmarshal(valCopy)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not decode cassette %q", name)
	}
	c.Name = name

	return c, nil
}

// Names lists the stored cassettes in key order.
func (s *BadgerStore) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(badgerPrefix):]))
		}
		return nil
	})

	return names, err
}

func (s *BadgerStore) Sync() error {
	return s.db.Sync()
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
