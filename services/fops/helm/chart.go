// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package helm

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/fops/services/fops/fileset"
)

// ErrInvalidChart indicates the chart file set is structurally unusable.
// helm lint would reject it anyway; this check fails fast before a sandbox
// is ever created.
var ErrInvalidChart = errors.New("invalid helm chart")

// chartMeta is the subset of Chart.yaml we require.
type chartMeta struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ValidateChart checks a chart file set for the pieces helm cannot run
// without.
//
// Description:
//
//	Requires a parseable Chart.yaml with name and version, and a
//	parseable values.yaml when one is present. Template content is left
//	to helm lint. Paths are relative to the chart root, before the
//	ChartDir prefix is applied.
//
// Errors:
//
//	ErrInvalidChart - Wrapped with the specific defect.
func ValidateChart(files fileset.FileSet) error {
	if err := files.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChart, err)
	}

	raw, ok := files["Chart.yaml"]
	if !ok {
		return fmt.Errorf("%w: Chart.yaml missing", ErrInvalidChart)
	}

	var meta chartMeta
	if err := yaml.Unmarshal([]byte(raw), &meta); err != nil {
		return fmt.Errorf("%w: Chart.yaml: %v", ErrInvalidChart, err)
	}
	if strings.TrimSpace(meta.Name) == "" {
		return fmt.Errorf("%w: Chart.yaml missing name", ErrInvalidChart)
	}
	if strings.TrimSpace(meta.Version) == "" {
		return fmt.Errorf("%w: Chart.yaml missing version", ErrInvalidChart)
	}

	if values, ok := files["values.yaml"]; ok {
		var v map[string]interface{}
		if err := yaml.Unmarshal([]byte(values), &v); err != nil {
			return fmt.Errorf("%w: values.yaml: %v", ErrInvalidChart, err)
		}
	}

	return nil
}
