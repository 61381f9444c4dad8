// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregation models aggregation requests and their nested count
// results.
//
// # Description
//
// Search engines answer a Request with a Tree: string keys mapping either to
// a count (leaf) or to a nested Tree (branch). Bucket names may contain
// Separator to express nesting; Flatten and Unflatten convert between the
// dotted and the nested forms and are inverses of each other for trees
// without empty branches.
package aggregation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Separator joins the path segments of a flattened key.
const Separator = "."

var (
	// ErrPathConflict is returned when a key is used both as a count and
	// as a nested tree.
	ErrPathConflict = errors.New("aggregation path used as both count and tree")

	// ErrInvalidPath is returned for keys with empty path segments.
	ErrInvalidPath = errors.New("invalid aggregation path")
)

// Node is either a leaf count or a nested Tree.
type Node struct {
	count    int64
	children Tree
}

// Tree is a nested aggregation result.
type Tree map[string]Node

// Leaf returns a count node.
func Leaf(count int64) Node {
	return Node{count: count}
}

// Branch returns a node holding a nested tree.
func Branch(t Tree) Node {
	if t == nil {
		t = Tree{}
	}
	return Node{children: t}
}

// IsLeaf reports whether n is a count.
func (n Node) IsLeaf() bool {
	return n.children == nil
}

// Count returns the count of a leaf node, 0 for branches.
func (n Node) Count() int64 {
	return n.count
}

// Children returns the nested tree of a branch node, nil for leaves.
func (n Node) Children() Tree {
	return n.children
}

// Lookup follows path through nested branches.
func (t Tree) Lookup(path ...string) (Node, bool) {
	cur := t
	for i, key := range path {
		n, ok := cur[key]
		if !ok {
			return Node{}, false
		}
		if i == len(path)-1 {
			return n, true
		}
		if n.IsLeaf() {
			return Node{}, false
		}
		cur = n.children
	}
	return Node{}, false
}

// Flatten joins nested keys with Separator.
//
// # Examples
//
//	Flatten(Tree{"A": Branch(Tree{"correct_records": Leaf(7)})})
//	// map[string]int64{"A.correct_records": 7}
//
// # Limitations
//
//   - Empty branches have no leaves and disappear.
func Flatten(t Tree) map[string]int64 {
	out := make(map[string]int64)
	flattenInto(out, "", t)
	return out
}

func flattenInto(out map[string]int64, prefix string, t Tree) {
	for key, n := range t {
		path := key
		if prefix != "" {
			path = prefix + Separator + key
		}
		if n.IsLeaf() {
			out[path] = n.count
			continue
		}
		flattenInto(out, path, n.children)
	}
}

// Unflatten splits keys on Separator into nested branches.
//
// # Outputs
//
//   - Tree: The nested tree.
//   - error: ErrInvalidPath for keys with empty segments, ErrPathConflict
//     when a key is both a count and a prefix of another key.
func Unflatten(flat map[string]int64) (Tree, error) {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := Tree{}
	for _, key := range keys {
		segments := strings.Split(key, Separator)
		cur := root
		for i, seg := range segments {
			if seg == "" {
				return nil, fmt.Errorf("%w: %q", ErrInvalidPath, key)
			}
			existing, ok := cur[seg]
			if i == len(segments)-1 {
				if ok {
					return nil, fmt.Errorf("%w: %q", ErrPathConflict, key)
				}
				cur[seg] = Leaf(flat[key])
				break
			}
			if !ok {
				existing = Branch(nil)
				cur[seg] = existing
			} else if existing.IsLeaf() {
				return nil, fmt.Errorf("%w: %q", ErrPathConflict, key)
			}
			cur = existing.children
		}
	}
	return root, nil
}

// MarshalJSON encodes leaves as numbers and branches as objects.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.IsLeaf() {
		return json.Marshal(n.count)
	}
	return json.Marshal(map[string]Node(n.children))
}

// UnmarshalJSON decodes numbers as leaves and objects as branches.
func (n *Node) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var t Tree
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*n = Branch(t)
		return nil
	}
	var count int64
	if err := json.Unmarshal(data, &count); err != nil {
		return fmt.Errorf("aggregation value must be an integer or an object: %w", err)
	}
	*n = Leaf(count)
	return nil
}
