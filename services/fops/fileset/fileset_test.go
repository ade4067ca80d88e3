// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fileset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSet_Validate(t *testing.T) {
	tests := []struct {
		name    string
		fs      FileSet
		wantErr error
	}{
		{
			name:    "empty set rejected",
			fs:      FileSet{},
			wantErr: ErrEmptySet,
		},
		{
			name:    "simple relative path",
			fs:      FileSet{"main.tf": "resource {}"},
			wantErr: nil,
		},
		{
			name:    "nested relative path",
			fs:      FileSet{"templates/deployment.yaml": "kind: Deployment"},
			wantErr: nil,
		},
		{
			name:    "empty path rejected",
			fs:      FileSet{"": "content"},
			wantErr: ErrEmptyPath,
		},
		{
			name:    "absolute path rejected",
			fs:      FileSet{"/etc/passwd": "x"},
			wantErr: ErrAbsolutePath,
		},
		{
			name:    "backslash separator rejected",
			fs:      FileSet{`templates\x.yaml`: "x"},
			wantErr: ErrAbsolutePath,
		},
		{
			name:    "parent traversal rejected",
			fs:      FileSet{"../outside.tf": "x"},
			wantErr: ErrPathTraversal,
		},
		{
			name:    "interior traversal rejected",
			fs:      FileSet{"a/../../outside.tf": "x"},
			wantErr: ErrPathTraversal,
		},
		{
			name:    "masked traversal rejected",
			fs:      FileSet{"a/../b/../../../etc/passwd": "x"},
			wantErr: ErrPathTraversal,
		},
		{
			name:    "literal dotdot component rejected even when clean",
			fs:      FileSet{"a/../b.tf": "x"},
			wantErr: ErrPathTraversal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fs.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestFileSet_Materialize(t *testing.T) {
	dir := t.TempDir()

	fs := FileSet{
		"main.tf":                   `resource "aws_s3_bucket" "b" {}`,
		"modules/vpc/vpc.tf":        "# vpc",
		"templates/deployment.yaml": "kind: Deployment",
	}

	require.NoError(t, fs.Materialize(dir))

	for p, want := range fs {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
		require.NoError(t, err, p)
		assert.Equal(t, want, string(got), p)
	}
}

func TestFileSet_Materialize_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()

	fs := FileSet{"../escape.tf": "x"}
	err := fs.Materialize(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPathTraversal))

	// Nothing may have been written outside the directory.
	_, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "escape.tf"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileSet_WithPrefix(t *testing.T) {
	fs := FileSet{"main.tf": "a", "vars.tf": "b"}

	prefixed := fs.WithPrefix("infra")
	assert.Equal(t, FileSet{"infra/main.tf": "a", "infra/vars.tf": "b"}, prefixed)

	// Original untouched.
	assert.Equal(t, FileSet{"main.tf": "a", "vars.tf": "b"}, fs)

	// Empty prefix copies.
	copied := fs.WithPrefix("")
	assert.Equal(t, fs, copied)
}

func TestFileSet_Merge(t *testing.T) {
	a := FileSet{"x": "1", "y": "2"}
	b := FileSet{"y": "3", "z": "4"}

	merged := a.Merge(b)
	assert.Equal(t, FileSet{"x": "1", "y": "3", "z": "4"}, merged)
	assert.Equal(t, FileSet{"x": "1", "y": "2"}, a)
}

func TestFileSet_Paths_Sorted(t *testing.T) {
	fs := FileSet{"b.tf": "", "a.tf": "", "c/d.tf": ""}
	assert.Equal(t, []string{"a.tf", "b.tf", "c/d.tf"}, fs.Paths())
}
