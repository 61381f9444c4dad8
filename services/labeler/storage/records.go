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
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/search"
)

func recordPrefix(datasetID string) []byte {
	return []byte("record/" + datasetID + "/")
}

func recordKey(datasetID, recordID string) []byte {
	return append(recordPrefix(datasetID), recordID...)
}

// RecordStore keeps dataset records in badger for the local search engine.
type RecordStore struct {
	db *DB
}

// NewRecordStore returns a record store over db.
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Records returns every record of a dataset in id order.
func (s *RecordStore) Records(ctx context.Context, datasetID string) ([]datatypes.Record, error) {
	records := []datatypes.Record{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix(datasetID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r datatypes.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// PutRecords upserts records by id. Large loads go through a write batch so
// they are not bounded by the transaction size limit.
func (s *RecordStore) PutRecords(ctx context.Context, datasetID string, records []datatypes.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record in dataset %s has no id", datasetID)
		}
		r.DatasetID = datasetID
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		if err := wb.Set(recordKey(datasetID, r.ID), data); err != nil {
			return fmt.Errorf("write record %s: %w", r.ID, err)
		}
	}
	return wb.Flush()
}

// Count returns the number of records stored for a dataset.
func (s *RecordStore) Count(ctx context.Context, datasetID string) (int, error) {
	n := 0
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix(datasetID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

var _ search.RecordStore = (*RecordStore)(nil)
