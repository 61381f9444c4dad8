// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLabeler/services/labeler"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/search"
)

const maxRecordLine = 4 << 20

func newRecordsCmd(state *cliState) *cobra.Command {
	recordsCmd := &cobra.Command{
		Use:   "records",
		Short: "Load records into the search backend",
	}

	var batchSize int
	loadCmd := &cobra.Command{
		Use:   "load [dataset] [file.jsonl]",
		Short: "Index a JSON Lines file of records",
		Long: `Each line is one record:
  {"id": "r1", "text": "...", "annotated_as": ["SPAM"], "predicted_as": ["SPAM"], "metadata": {"source": "mail"}}`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[1], err)
			}
			defer f.Close()

			return state.withApp(cmd, func(app *labeler.App) error {
				ds, err := app.Datasets.FindByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				n, err := loadRecords(cmd.Context(), app.Indexer, ds.ID, f, batchSize)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d records into %s\n", n, ds.Name)
				return nil
			})
		},
	}
	loadCmd.Flags().IntVar(&batchSize, "batch-size", search.BatchSize, "Records per index call")

	recordsCmd.AddCommand(loadCmd)
	return recordsCmd
}

// loadRecords reads JSON Lines from r and indexes them in batches.
func loadRecords(ctx context.Context, indexer search.Indexer, datasetID string, r io.Reader, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = search.BatchSize
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordLine)

	total := 0
	batch := make([]datatypes.Record, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := indexer.Index(ctx, datasetID, batch)
		total += n
		batch = make([]datatypes.Record, 0, batchSize)
		return err
	}

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec datatypes.Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, rec)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("failed to read records: %w", err)
	}
	return total, flush()
}
