// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command fops is the F-Ops CLI and API server.
//
// F-Ops turns infrastructure requests into reviewable proposals: it
// generates CI/CD pipelines and Terraform/Helm configuration, validates
// them with real tool dry-runs in an ephemeral sandbox, and publishes
// the result as a pull or merge request with the validation reports
// attached. Nothing is ever applied directly.
//
// Usage:
//
//	# Start the API server
//	fops serve --config config.yaml
//
//	# Propose a CI/CD pipeline for a repository
//	fops propose pipeline --repo https://github.com/acme/app \
//	  --language go --target k8s --env staging --env prod
//
//	# Propose infrastructure configuration
//	fops propose infrastructure --repo https://github.com/acme/app \
//	  --target k8s --env staging --env prod --domain example.com
//
//	# Inspect the audit trail
//	fops audit --date 2026-08-31 --type pr_creation
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
