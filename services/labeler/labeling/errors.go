// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package labeling

import (
	"fmt"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
)

// Sentinels matched by the typed errors below.
var (
	ErrNotFound      = datatypes.ErrNotFound
	ErrAlreadyExists = datatypes.ErrAlreadyExists
)

// NotFoundError reports a missing dataset or rule.
type NotFoundError struct {
	// Kind is what was looked up: "dataset" or "rule".
	Kind string
	// Key is the dataset name/id or the rule query.
	Key string
	// Err is the underlying cause, if any.
	Err error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %q not found: %v", e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }

// AlreadyExistsError reports a rule whose query is already defined.
type AlreadyExistsError struct {
	Kind string
	Key  string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Key)
}

// Is makes errors.Is(err, ErrAlreadyExists) hold.
func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }
