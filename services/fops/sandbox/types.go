// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import "time"

// Stage describes one external tool invocation inside a sandbox.
type Stage struct {
	// Name identifies the stage ("init", "plan", "lint", "dry-run").
	// Failure location is diagnosed by this marker, never by matching
	// tool output text.
	Name string

	// Tool is the binary name resolved against PATH ("terraform", "helm").
	Tool string

	// Args is the argv tail. Always passed as an array; no shell is ever
	// involved, so generated content cannot inject commands.
	Args []string

	// Timeout is the hard wall-clock limit for this stage.
	Timeout time.Duration

	// Subdir, when non-empty, is the working directory relative to the
	// sandbox root.
	Subdir string

	// OKExitCodes lists exit codes that do not short-circuit a staged
	// run. Empty means only 0. Terraform plan with -detailed-exitcode
	// uses {0, 2}: exit 2 means "valid plan with changes", not failure.
	OKExitCodes []int
}

func (s Stage) exitOK(code int) bool {
	if len(s.OKExitCodes) == 0 {
		return code == 0
	}
	for _, ok := range s.OKExitCodes {
		if code == ok {
			return true
		}
	}
	return false
}

// Result is the raw outcome of one stage execution.
//
// Results are ephemeral: they are preserved only as RawOutput inside a
// ValidationReport and never drive an irreversible action unparsed.
type Result struct {
	// Tool is the executed binary name.
	Tool string `json:"tool"`

	// Stage is the Stage.Name this result belongs to.
	Stage string `json:"stage"`

	// ExitCode is the process exit code, or -1 when the process was
	// killed (timeout) or failed to start.
	ExitCode int `json:"exit_code"`

	// Stdout and Stderr are captured separately.
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`

	// TimedOut is true when the stage hit its wall-clock limit. No
	// partial output from a timed-out run may be trusted for success
	// classification.
	TimedOut bool `json:"timed_out"`

	// Failed records whether this stage terminated the staged run, per
	// the stage's tolerated exit codes.
	Failed bool `json:"failed"`
}
