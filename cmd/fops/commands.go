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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fops/services/fops/api"
)

// --- Global Command Variables ---
var (
	configPath string
	serverURL  string
	logDir     string
	jsonLogs   bool
	debugMode  bool

	// propose pipeline flags
	proposeRepo     string
	proposeLanguage string
	proposeTarget   string
	proposeEnvs     []string
	pipelineFile    string

	// propose infrastructure flags
	infraDomain    string
	infraRegistry  string
	infraApp       string
	infraRelease   string
	infraNamespace string

	// audit flags
	auditDate  string
	auditType  string
	auditAgent string
	auditLimit int

	rootCmd = &cobra.Command{
		Use:   "fops",
		Short: "A CLI to manage F-Ops infrastructure proposals",
		Long: `F-Ops generates and validates infrastructure changes, then publishes
				them as reviewable pull requests. All changes are proposal-only:
				nothing is applied to live infrastructure.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the F-Ops API server",
		Long:  `Starts the HTTP API that accepts proposal requests, runs sandboxed dry-run validation, and publishes pull requests. Platform tokens come from FOPS_GITHUB_TOKEN and FOPS_GITLAB_TOKEN.`,
		Run:   runServe, // Defined in cmd_serve.go
	}

	proposeCmd = &cobra.Command{
		Use:   "propose",
		Short: "Create a change proposal through a running F-Ops server",
	}
	proposePipelineCmd = &cobra.Command{
		Use:   "pipeline",
		Short: "Propose a CI/CD pipeline for a repository",
		Long:  `Generates a pipeline (or submits one from --file), validates its syntax, and opens a pull request on the target repository.`,
		Run:   runProposePipeline, // Defined in cmd_propose.go
	}
	proposeInfraCmd = &cobra.Command{
		Use:   "infrastructure",
		Short: "Propose Terraform and Helm configuration for a repository",
		Long:  `Generates infrastructure configuration, dry-runs it with terraform plan and helm install --dry-run, and opens a pull request with the validation reports attached.`,
		Run:   runProposeInfrastructure, // Defined in cmd_propose.go
	}

	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Query the append-only operation audit trail",
		Run:   runAudit, // Defined in cmd_audit.go
	}
	auditStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show per-day operation counts from the audit trail",
		Run:   runAuditStats, // Defined in cmd_audit.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the F-Ops version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fops " + api.ServiceVersion)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8642",
		"Base URL of the F-Ops API server")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to the YAML configuration file (watched for allow-list changes)")
	serveCmd.Flags().StringVar(&logDir, "log-dir", "", "Directory for JSON log files (disabled when empty)")
	serveCmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON logs on stderr")
	serveCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging and gin debug mode")

	rootCmd.AddCommand(proposeCmd)
	proposeCmd.AddCommand(proposePipelineCmd)
	proposePipelineCmd.Flags().StringVar(&proposeRepo, "repo", "", "Target repository URL (required)")
	proposePipelineCmd.Flags().StringVar(&proposeLanguage, "language", "", "Project language (go, python, node)")
	proposePipelineCmd.Flags().StringVar(&proposeTarget, "target", "", "Deployment target (k8s, serverless, vms)")
	proposePipelineCmd.Flags().StringArrayVar(&proposeEnvs, "env", nil, "Deployment environment (repeatable)")
	proposePipelineCmd.Flags().StringVar(&pipelineFile, "file", "", "Submit this pipeline file instead of generating one")
	_ = proposePipelineCmd.MarkFlagRequired("repo")

	proposeCmd.AddCommand(proposeInfraCmd)
	proposeInfraCmd.Flags().StringVar(&proposeRepo, "repo", "", "Target repository URL (required)")
	proposeInfraCmd.Flags().StringVar(&proposeTarget, "target", "k8s", "Deployment target (k8s, serverless, vms)")
	proposeInfraCmd.Flags().StringArrayVar(&proposeEnvs, "env", nil, "Deployment environment (repeatable)")
	proposeInfraCmd.Flags().StringVar(&infraDomain, "domain", "", "Base DNS domain for the generated modules")
	proposeInfraCmd.Flags().StringVar(&infraRegistry, "registry", "", "Container registry for the generated modules")
	proposeInfraCmd.Flags().StringVar(&infraApp, "app", "", "Application name for the Helm chart")
	proposeInfraCmd.Flags().StringVar(&infraRelease, "release", "", "Helm release name for the dry-run")
	proposeInfraCmd.Flags().StringVar(&infraNamespace, "namespace", "", "Kubernetes namespace for the dry-run")
	_ = proposeInfraCmd.MarkFlagRequired("repo")

	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditStatsCmd)
	auditCmd.PersistentFlags().StringVar(&auditDate, "date", "", "Restrict to one UTC day (YYYY-MM-DD)")
	auditCmd.Flags().StringVar(&auditType, "type", "", "Filter by operation type")
	auditCmd.Flags().StringVar(&auditAgent, "agent", "", "Filter by agent")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of entries")

	rootCmd.AddCommand(versionCmd)
}
