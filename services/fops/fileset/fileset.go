// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fileset defines the file mapping handed from the generator to the
// validation pipeline.
//
// A FileSet maps relative forward-slash paths to file content. The set is
// produced by a generator and is read-only to the rest of the pipeline: every
// consumer validates and materializes it, nothing mutates it.
//
// # Security
//
// Paths are validated before any filesystem write. Absolute paths and any
// form of `..` traversal are rejected so generated content can never escape
// the sandbox directory it is materialized into.
package fileset

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Sentinel errors for file set validation.
var (
	// ErrEmptySet is returned when a FileSet contains no files.
	ErrEmptySet = errors.New("file set is empty")

	// ErrEmptyPath is returned when a FileSet contains an empty path key.
	ErrEmptyPath = errors.New("file path is empty")

	// ErrAbsolutePath is returned when a path is absolute instead of
	// relative to the sandbox root.
	ErrAbsolutePath = errors.New("file path is absolute")

	// ErrPathTraversal is returned when a path escapes the sandbox root.
	// This is a security error: generated content must never be able to
	// address files outside its materialization directory.
	ErrPathTraversal = errors.New("file path escapes sandbox root")
)

// FileSet maps relative forward-slash paths to file content.
type FileSet map[string]string

// Validate checks every path in the set against the traversal rules.
//
// Description:
//
//	Rejects empty sets, empty paths, absolute paths, backslash separators,
//	and any path whose cleaned form starts with "..". Validation happens
//	on the slash form; materialization converts to the host separator.
//
// Outputs:
//
//	error - Non-nil if any path is invalid. The first offending path is
//	included in the error message.
func (fs FileSet) Validate() error {
	if len(fs) == 0 {
		return ErrEmptySet
	}

	for p := range fs {
		if err := validatePath(p); err != nil {
			return fmt.Errorf("%w: %q", err, p)
		}
	}

	return nil
}

// Materialize writes the file set under dir.
//
// Description:
//
//	Validates the set, then creates parent directories (0755) and writes
//	each file (0644) below dir. Paths are converted from slash form to the
//	host separator. Partial writes are not rolled back; callers own the
//	directory lifetime and remove it wholesale.
//
// Inputs:
//
//	dir - Existing directory to write into.
//
// Outputs:
//
//	error - Non-nil on validation or write failure.
func (fs FileSet) Materialize(dir string) error {
	if err := fs.Validate(); err != nil {
		return err
	}

	for p, content := range fs {
		target := filepath.Join(dir, filepath.FromSlash(path.Clean(p)))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", p, err)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", p, err)
		}
	}

	return nil
}

// Paths returns the sorted relative paths in the set.
func (fs FileSet) Paths() []string {
	paths := make([]string, 0, len(fs))
	for p := range fs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// WithPrefix returns a new FileSet with prefix joined onto every path.
//
// The receiver is not modified. Used when assembling a proposal tree from
// separately generated terraform and helm sets (infra/, deploy/chart/).
func (fs FileSet) WithPrefix(prefix string) FileSet {
	if prefix == "" {
		out := make(FileSet, len(fs))
		for p, c := range fs {
			out[p] = c
		}
		return out
	}

	out := make(FileSet, len(fs))
	for p, c := range fs {
		out[path.Join(prefix, p)] = c
	}
	return out
}

// Merge returns a new FileSet containing all entries of fs and other.
// Entries in other win on path collision.
func (fs FileSet) Merge(other FileSet) FileSet {
	out := make(FileSet, len(fs)+len(other))
	for p, c := range fs {
		out[p] = c
	}
	for p, c := range other {
		out[p] = c
	}
	return out
}

func validatePath(p string) error {
	if p == "" {
		return ErrEmptyPath
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return ErrAbsolutePath
	}

	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ErrPathTraversal
	}

	// Clean collapses interior "a/../b" segments, but reject any literal
	// ".." component outright: generated paths have no business using them.
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return ErrPathTraversal
		}
	}

	return nil
}
