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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fops/services/fops/api"
)

// runProposePipeline submits a pipeline proposal to the server.
//
// With --file the given pipeline is submitted as-is; otherwise the
// server generates one from --language, --target, and --env.
func runProposePipeline(cmd *cobra.Command, args []string) {
	req := api.PipelineRequest{
		RepoURL:      proposeRepo,
		Language:     proposeLanguage,
		Target:       proposeTarget,
		Environments: proposeEnvs,
	}

	if pipelineFile != "" {
		data, err := os.ReadFile(pipelineFile)
		if err != nil {
			fatalf("Error reading pipeline file %s: %v", pipelineFile, err)
		}
		req.Content = string(data)
	} else if len(proposeEnvs) == 0 {
		fatalf("Either --file or at least one --env is required")
	}

	postJSON("/v1/fops/proposals/pipeline", req)
}

// runProposeInfrastructure submits an infrastructure proposal to the
// server.
func runProposeInfrastructure(cmd *cobra.Command, args []string) {
	if len(proposeEnvs) == 0 {
		fatalf("At least one --env is required")
	}

	postJSON("/v1/fops/proposals/infrastructure", api.InfrastructureRequest{
		RepoURL:      proposeRepo,
		Target:       proposeTarget,
		Environments: proposeEnvs,
		Domain:       infraDomain,
		Registry:     infraRegistry,
		AppName:      infraApp,
		ReleaseName:  infraRelease,
		Namespace:    infraNamespace,
	})
}
