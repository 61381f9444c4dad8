// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class holding labeling records.
const DefaultClassName = "LabelingRecord"

// RecordSchema returns the Weaviate class for labeling records.
//
// Description:
//
//	Records carry no vector. Text uses word tokenization so rule words can
//	be matched with Like. Label and metadata arrays use field tokenization
//	so values compare exactly.
func RecordSchema(className string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	fieldText := func(name, desc string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"text"},
			Description:     desc,
			IndexFilterable: indexFilterable,
			Tokenization:    "field",
		}
	}
	fieldTextArray := func(name, desc string) *models.Property {
		p := fieldText(name, desc)
		p.DataType = []string{"text[]"}
		return p
	}
	flag := func(name, desc string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"boolean"},
			Description:     desc,
			IndexFilterable: indexFilterable,
		}
	}

	return &models.Class{
		Class:       className,
		Description: "A text classification record searched by labeling rules",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState: true,
		},
		Properties: []*models.Property{
			fieldText(propRecordID, "Record id within its dataset"),
			fieldText(propDatasetID, "Owning dataset id"),
			{
				Name:            propText,
				DataType:        []string{"text"},
				Description:     "Record text",
				IndexFilterable: indexFilterable,
				Tokenization:    "word",
			},
			fieldTextArray(propAnnotatedAs, "Gold labels"),
			fieldTextArray(propPredictedAs, "Predicted labels"),
			fieldTextArray(propMetadataPairs, "Metadata as key=value pairs"),
			flag(propAnnotated, "Whether the record has gold labels"),
			flag(propPredicted, "Whether the record has predicted labels"),
		},
	}
}

// EnsureSchema creates the record class if it doesn't exist. It is
// idempotent.
func EnsureSchema(ctx context.Context, client *weaviate.Client, className string) error {
	exists, err := client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
	if err != nil {
		return fmt.Errorf("checking %s schema: %w", className, err)
	}
	if exists {
		slog.Info("Record schema already exists", "class", className)
		return nil
	}

	slog.Info("Creating record schema", "class", className)
	if err := client.Schema().ClassCreator().WithClass(RecordSchema(className)).Do(ctx); err != nil {
		return fmt.Errorf("creating %s schema: %w", className, err)
	}
	return nil
}
