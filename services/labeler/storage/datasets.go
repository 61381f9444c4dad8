// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
)

// ErrConflict is returned when a dataset changed between read and write.
var ErrConflict = errors.New("dataset was modified concurrently")

const (
	datasetIDPrefix   = "dataset/id/"
	datasetNamePrefix = "dataset/name/"
)

func datasetIDKey(id string) []byte     { return []byte(datasetIDPrefix + id) }
func datasetNameKey(name string) []byte { return []byte(datasetNamePrefix + name) }

// DatasetStore is the badger-backed dataset repository.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent writers are serialized by badger's
// transaction conflict detection and by the dataset version.
type DatasetStore struct {
	db  *DB
	now func() time.Time
}

// NewDatasetStore returns a repository over db.
func NewDatasetStore(db *DB) *DatasetStore {
	return &DatasetStore{db: db, now: time.Now}
}

// Register stores a new dataset.
//
// # Description
//
// Assigns an id when missing, stamps CreatedAt and LastUpdated and starts
// the version at 1. Names are unique.
//
// # Outputs
//
//   - *datatypes.Dataset: The stored dataset.
//   - error: Wraps datatypes.ErrAlreadyExists for a taken name.
func (s *DatasetStore) Register(ctx context.Context, ds datatypes.Dataset) (*datatypes.Dataset, error) {
	ds.Name = strings.TrimSpace(ds.Name)
	if ds.Name == "" {
		return nil, errors.New("dataset name is required")
	}
	if !ds.Task.Valid() {
		return nil, fmt.Errorf("unknown task %q", ds.Task)
	}
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	now := s.now().UTC()
	ds.CreatedAt = now
	ds.LastUpdated = now
	ds.Version = 1

	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(datasetNameKey(ds.Name)); err == nil {
			return fmt.Errorf("dataset %q: %w", ds.Name, datatypes.ErrAlreadyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(datasetIDKey(ds.ID)); err == nil {
			return fmt.Errorf("dataset id %s: %w", ds.ID, datatypes.ErrAlreadyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putDataset(txn, &ds); err != nil {
			return err
		}
		return txn.Set(datasetNameKey(ds.Name), []byte(ds.ID))
	})
	if err != nil {
		return nil, mapTxnError(err)
	}

	slog.Info("Registered dataset", "dataset_id", ds.ID, "name", ds.Name, "task", ds.Task)
	return &ds, nil
}

// FindByID loads a dataset by id.
func (s *DatasetStore) FindByID(ctx context.Context, id string) (*datatypes.Dataset, error) {
	var ds *datatypes.Dataset
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		ds, err = getDataset(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// FindByName loads a dataset by its unique name.
func (s *DatasetStore) FindByName(ctx context.Context, name string) (*datatypes.Dataset, error) {
	var ds *datatypes.Dataset
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(datasetNameKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("dataset %q: %w", name, datatypes.ErrNotFound)
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		ds, err = getDataset(txn, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// List returns all datasets ordered by name.
func (s *DatasetStore) List(ctx context.Context) ([]datatypes.Dataset, error) {
	var out []datatypes.Dataset
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(datasetIDPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var ds datatypes.Dataset
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ds)
			}); err != nil {
				return fmt.Errorf("decode dataset %s: %w", it.Item().Key(), err)
			}
			out = append(out, ds)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update persists ds if its version still matches the stored one. On
// success ds.Version is incremented and ds.LastUpdated refreshed.
//
// # Outputs
//
//   - error: Wraps datatypes.ErrNotFound for an unknown id, ErrConflict for
//     a stale version. Renames are not supported.
func (s *DatasetStore) Update(ctx context.Context, ds *datatypes.Dataset) error {
	next := *ds
	next.Version = ds.Version + 1
	next.LastUpdated = s.now().UTC()

	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		stored, err := getDataset(txn, ds.ID)
		if err != nil {
			return err
		}
		if stored.Version != ds.Version {
			return fmt.Errorf("dataset %s at version %d, write based on %d: %w",
				ds.ID, stored.Version, ds.Version, ErrConflict)
		}
		if stored.Name != ds.Name {
			return fmt.Errorf("dataset %s: renaming is not supported", ds.ID)
		}
		return putDataset(txn, &next)
	})
	if err != nil {
		return mapTxnError(err)
	}

	ds.Version = next.Version
	ds.LastUpdated = next.LastUpdated
	slog.Debug("Updated dataset", "dataset_id", ds.ID, "version", ds.Version)
	return nil
}

func getDataset(txn *badger.Txn, id string) (*datatypes.Dataset, error) {
	item, err := txn.Get(datasetIDKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("dataset %s: %w", id, datatypes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", id, err)
	}

	var ds datatypes.Dataset
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ds)
	}); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", id, err)
	}
	return &ds, nil
}

func putDataset(txn *badger.Txn, ds *datatypes.Dataset) error {
	data, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("encode dataset %s: %w", ds.ID, err)
	}
	return txn.Set(datasetIDKey(ds.ID), data)
}

// mapTxnError turns badger's commit conflict into ErrConflict.
func mapTxnError(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
