/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cassette

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/tidwall/wal"
)

// Journal is an append-only log of cassette snapshots.  Healing appends the
// state of a cassette each time a test releases it; only the last snapshot
// per cassette is persisted at the end of a run.
type Journal struct {
	path      string
	nextIndex uint64
	log       *wal.Log
}

func OpenJournal(path string) (*Journal, error) {
	log, err := wal.Open(path, &wal.Options{
		NoSync: true,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not open journal")
	}

	lastIndex, err := log.LastIndex()
	if err != nil {
		log.Close()
		return nil, errors.WithMessage(err, "could not read last index")
	}

	return &Journal{
		path:      path,
		nextIndex: lastIndex + 1,
		log:       log,
	}, nil
}

func (j *Journal) Append(c *Cassette) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}

	if err := j.log.Write(j.nextIndex, data); err != nil {
		return errors.WithMessagef(err, "could not append snapshot of %q", c.Name)
	}

	j.nextIndex++

	return nil
}

// Replay returns the last snapshot of every cassette, sorted by name.
func (j *Journal) Replay() ([]*Cassette, error) {
	firstIndex, err := j.log.FirstIndex()
	if err != nil {
		return nil, errors.WithMessage(err, "could not read first index")
	}

	lastIndex, err := j.log.LastIndex()
	if err != nil {
		return nil, errors.WithMessage(err, "could not read last index")
	}

	latest := map[string]*Cassette{}
	if firstIndex != 0 {
		for index := firstIndex; index <= lastIndex; index++ {
			data, err := j.log.Read(index)
			if err != nil {
				return nil, errors.WithMessagef(err, "could not read index %d", index)
			}

			c, err := Unmarshal(data)
			if err != nil {
				return nil, errors.WithMessagef(err, "could not decode index %d, is the journal corrupt?", index)
			}

			latest[c.Name] = c
		}
	}

	result := make([]*Cassette, 0, len(latest))
	for _, c := range latest {
		result = append(result, c)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].Name < result[b].Name
	})

	return result, nil
}

func (j *Journal) Sync() error {
	return j.log.Sync()
}

func (j *Journal) Close() error {
	return j.log.Close()
}

// Remove closes the journal and deletes its files.
func (j *Journal) Remove() error {
	if err := j.log.Close(); err != nil && err != wal.ErrClosed {
		return errors.WithMessage(err, "could not close journal")
	}
	return os.RemoveAll(j.path)
}
