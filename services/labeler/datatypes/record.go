// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Record field names understood by the filter builder and search engines.
const (
	FieldText           = "text"
	FieldAnnotatedAs    = "annotated_as"
	FieldPredictedAs    = "predicted_as"
	FieldMetadataPrefix = "metadata."
)

// Record is a single text classification sample.
//
// A record is annotated when AnnotatedAs is non-empty.
type Record struct {
	ID          string            `json:"id"`
	DatasetID   string            `json:"dataset_id,omitempty"`
	Text        string            `json:"text"`
	AnnotatedAs []string          `json:"annotated_as,omitempty"`
	PredictedAs []string          `json:"predicted_as,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Annotated reports whether r carries a human annotation.
func (r Record) Annotated() bool {
	return len(r.AnnotatedAs) > 0
}
