// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/fops/services/fops/fileset"
)

// TemplateGenerator produces artifacts deterministically from built-in
// templates. Identical requests yield identical output, which keeps the
// citation content hashes stable across retries.
type TemplateGenerator struct{}

// NewTemplateGenerator creates the default generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Per-language command tables. Unknown languages degrade to echo stubs
// rather than failing generation; the proposal reviewer sees exactly what
// will run.
var (
	setupCommands = map[string]string{
		"python":     "python -m pip install --upgrade pip",
		"javascript": "node --version && npm --version",
		"go":         "go version",
	}
	buildCommands = map[string]string{
		"python":     "pip install -r requirements.txt",
		"javascript": "npm install && npm run build",
		"go":         "go build ./...",
	}
	testCommands = map[string]string{
		"python":     "pytest --cov=. --cov-report=term-missing",
		"javascript": "npm test",
		"go":         "go test ./...",
	}
)

func commandFor(table map[string]string, language, fallback string) string {
	if cmd, ok := table[language]; ok {
		return cmd
	}
	return fallback
}

// Pipeline generates a CI/CD pipeline for the requested platform.
//
// The output carries the security and SLO gate annotations as leading
// comment blocks, then the pipeline itself: a build job followed by one
// deploy job per environment. Production deploys are restricted to the
// main branch.
func (g *TemplateGenerator) Pipeline(_ context.Context, req PipelineRequest) (*PipelineArtifact, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	path, err := PipelinePath(req.Platform)
	if err != nil {
		return nil, err
	}

	var content string
	switch req.Platform {
	case PlatformGitHub:
		content = g.githubActions(req)
	case PlatformGitLab:
		content = g.gitlabCI(req)
	}

	content = gateAnnotations(req) + content

	return &PipelineArtifact{Path: path, Content: content}, nil
}

func gateAnnotations(req PipelineRequest) string {
	return fmt.Sprintf(`# Security Scanning (F-Ops Generated)
# Recommended for %s: SAST, dependency scanning, container scanning
# SLO Gates (F-Ops Generated)
# Target: %s - add performance thresholds, uptime checks, error rate monitoring
`, req.Language, req.Target)
}

func (g *TemplateGenerator) githubActions(req PipelineRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `name: F-Ops Generated CI/CD Pipeline

on:
  push:
    branches: [main, develop]
  pull_request:
    branches: [main]

env:
  TARGET_ENVIRONMENT: %s

jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - name: Setup Language Environment
        run: %s
      - name: Build
        run: %s
      - name: Run tests
        run: %s
`,
		req.Target,
		commandFor(setupCommands, req.Language, `echo "Language setup"`),
		commandFor(buildCommands, req.Language, `echo "Build completed"`),
		commandFor(testCommands, req.Language, `echo "Tests completed"`),
	)

	for _, env := range req.Environments {
		condition := "true"
		if env == "prod" {
			condition = "github.ref == 'refs/heads/main'"
		}
		fmt.Fprintf(&sb, `
  deploy-%s:
    runs-on: ubuntu-latest
    needs: build
    if: %s
    environment: %s
    steps:
      - uses: actions/checkout@v4
      - name: Deploy to %s
        run: echo "Deploying to %s (%s)"
`, env, condition, env, env, env, req.Target)
	}

	return sb.String()
}

func (g *TemplateGenerator) gitlabCI(req PipelineRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `stages: [build, test, security, deploy]

variables:
  TARGET_ENVIRONMENT: %s

build:
  stage: build
  script:
    - %s
    - %s
  artifacts:
    paths: [dist/, build/]
    expire_in: 1 hour

test:
  stage: test
  script:
    - %s
  coverage: '/coverage: \d+\.\d+%%/'
`,
		req.Target,
		commandFor(setupCommands, req.Language, `echo "Language setup"`),
		commandFor(buildCommands, req.Language, `echo "Build completed"`),
		commandFor(testCommands, req.Language, `echo "Tests completed"`),
	)

	for _, env := range req.Environments {
		refs := "[main, develop]"
		if env == "prod" {
			refs = "[main]"
		}
		fmt.Fprintf(&sb, `
deploy-%s:
  stage: deploy
  script:
    - echo "Deploying to %s"
  environment:
    name: %s
  only: %s
`, env, env, env, refs)
	}

	return sb.String()
}

// Infrastructure generates the Terraform module tree and, for Kubernetes
// targets, a Helm chart.
func (g *TemplateGenerator) Infrastructure(_ context.Context, req InfraRequest) (*InfraArtifact, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	art := &InfraArtifact{Terraform: g.terraform(req)}
	if req.Target == TargetK8s {
		art.Helm = g.helmChart(req)
	}
	return art, nil
}

func (g *TemplateGenerator) terraform(req InfraRequest) fileset.FileSet {
	files := fileset.FileSet{}

	files["main.tf"] = fmt.Sprintf(`terraform {
  required_version = ">= 1.0"
  required_providers {
    aws = {
      source  = "hashicorp/aws"
      version = "~> 5.0"
    }
  }
}

provider "aws" {
  region = var.aws_region
}

variable "aws_region" {
  description = "AWS region"
  type        = string
  default     = "us-east-1"
}

variable "environment" {
  description = "Environment name"
  type        = string
}

variable "domain" {
  description = "Domain name"
  type        = string
  default     = %q
}

variable "registry" {
  description = "Container registry"
  type        = string
  default     = %q
}

module "network" {
  source = "./modules/network"

  environment = var.environment
}

module "registry" {
  source = "./modules/registry"

  environment = var.environment
  registry    = var.registry
}

module "dns" {
  source = "./modules/dns"

  environment = var.environment
  domain      = var.domain
}

module "secrets" {
  source = "./modules/secrets"

  environment = var.environment
}
`, req.Domain, req.Registry)

	files["modules/network/main.tf"] = `resource "aws_vpc" "main" {
  cidr_block           = "10.0.0.0/16"
  enable_dns_support   = true
  enable_dns_hostnames = true

  tags = {
    Name        = "${var.environment}-vpc"
    Environment = var.environment
    ManagedBy   = "f-ops"
  }
}

resource "aws_subnet" "private" {
  count             = 2
  vpc_id            = aws_vpc.main.id
  cidr_block        = cidrsubnet(aws_vpc.main.cidr_block, 4, count.index)
  availability_zone = data.aws_availability_zones.available.names[count.index]

  tags = {
    Name = "${var.environment}-private-${count.index}"
  }
}

data "aws_availability_zones" "available" {
  state = "available"
}
`
	files["modules/network/variables.tf"] = `variable "environment" {
  description = "Environment name"
  type        = string
}
`
	files["modules/network/outputs.tf"] = `output "vpc_id" {
  value = aws_vpc.main.id
}

output "private_subnet_ids" {
  value = aws_subnet.private[*].id
}
`

	files["modules/registry/main.tf"] = `resource "aws_ecr_repository" "app" {
  name                 = "${var.environment}-${var.registry}"
  image_tag_mutability = "IMMUTABLE"

  image_scanning_configuration {
    scan_on_push = true
  }

  tags = {
    Environment = var.environment
    ManagedBy   = "f-ops"
  }
}
`
	files["modules/registry/variables.tf"] = `variable "environment" {
  description = "Environment name"
  type        = string
}

variable "registry" {
  description = "Container registry name"
  type        = string
}
`
	files["modules/registry/outputs.tf"] = `output "repository_url" {
  value = aws_ecr_repository.app.repository_url
}
`

	files["modules/dns/main.tf"] = `data "aws_route53_zone" "main" {
  name = var.domain
}

resource "aws_acm_certificate" "main" {
  domain_name               = var.domain
  subject_alternative_names = ["*.${var.domain}"]
  validation_method         = "DNS"

  tags = {
    Environment = var.environment
    ManagedBy   = "f-ops"
  }

  lifecycle {
    create_before_destroy = true
  }
}
`
	files["modules/dns/variables.tf"] = `variable "environment" {
  description = "Environment name"
  type        = string
}

variable "domain" {
  description = "Domain name"
  type        = string
}
`
	files["modules/dns/outputs.tf"] = `output "zone_id" {
  value = data.aws_route53_zone.main.zone_id
}

output "certificate_arn" {
  value = aws_acm_certificate.main.arn
}
`

	files["modules/secrets/main.tf"] = `resource "aws_secretsmanager_secret" "app" {
  name                    = "${var.environment}-app-secrets"
  recovery_window_in_days = 7

  tags = {
    Environment = var.environment
    ManagedBy   = "f-ops"
  }
}
`
	files["modules/secrets/variables.tf"] = `variable "environment" {
  description = "Environment name"
  type        = string
}
`
	files["modules/secrets/outputs.tf"] = `output "secret_arn" {
  value = aws_secretsmanager_secret.app.arn
}
`

	for _, env := range req.Environments {
		files[fmt.Sprintf("environments/%s/terraform.tfvars", env)] = fmt.Sprintf("environment = %q\n", env)
	}

	return files
}

func (g *TemplateGenerator) helmChart(req InfraRequest) fileset.FileSet {
	app := req.AppName
	if app == "" {
		app = "app"
	}

	files := fileset.FileSet{}

	files["Chart.yaml"] = fmt.Sprintf(`apiVersion: v2
name: %s
description: F-Ops generated Helm chart
type: application
version: 0.1.0
appVersion: "1.0.0"
`, app)

	files["values.yaml"] = fmt.Sprintf(`replicaCount: 2

image:
  repository: %s/%s
  pullPolicy: IfNotPresent
  tag: latest

service:
  type: ClusterIP
  port: 80

ingress:
  enabled: true
  host: %s

resources:
  limits:
    cpu: 500m
    memory: 512Mi
  requests:
    cpu: 250m
    memory: 256Mi

autoscaling:
  enabled: true
  minReplicas: 2
  maxReplicas: 10
  targetCPUUtilizationPercentage: 80
`, req.Registry, app, req.Domain)

	files["templates/deployment.yaml"] = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: {{ .Release.Name }}
  labels:
    app: {{ .Release.Name }}
spec:
  {{- if not .Values.autoscaling.enabled }}
  replicas: {{ .Values.replicaCount }}
  {{- end }}
  selector:
    matchLabels:
      app: {{ .Release.Name }}
  template:
    metadata:
      labels:
        app: {{ .Release.Name }}
    spec:
      serviceAccountName: {{ .Release.Name }}
      containers:
        - name: {{ .Chart.Name }}
          image: "{{ .Values.image.repository }}:{{ .Values.image.tag }}"
          imagePullPolicy: {{ .Values.image.pullPolicy }}
          ports:
            - containerPort: {{ .Values.service.port }}
          resources:
            {{- toYaml .Values.resources | nindent 12 }}
`

	files["templates/service.yaml"] = `apiVersion: v1
kind: Service
metadata:
  name: {{ .Release.Name }}
  labels:
    app: {{ .Release.Name }}
spec:
  type: {{ .Values.service.type }}
  ports:
    - port: {{ .Values.service.port }}
      targetPort: {{ .Values.service.port }}
  selector:
    app: {{ .Release.Name }}
`

	files["templates/ingress.yaml"] = `{{- if .Values.ingress.enabled }}
apiVersion: networking.k8s.io/v1
kind: Ingress
metadata:
  name: {{ .Release.Name }}
spec:
  rules:
    - host: {{ .Values.ingress.host }}
      http:
        paths:
          - path: /
            pathType: Prefix
            backend:
              service:
                name: {{ .Release.Name }}
                port:
                  number: {{ .Values.service.port }}
{{- end }}
`

	files["templates/serviceaccount.yaml"] = `apiVersion: v1
kind: ServiceAccount
metadata:
  name: {{ .Release.Name }}
  labels:
    app: {{ .Release.Name }}
`

	files["templates/configmap.yaml"] = `apiVersion: v1
kind: ConfigMap
metadata:
  name: {{ .Release.Name }}-config
data:
  APP_ENV: {{ .Values.environment | default "dev" | quote }}
`

	for _, env := range req.Environments {
		files[fmt.Sprintf("values-%s.yaml", env)] = fmt.Sprintf(`environment: %s
replicaCount: %d
`, env, replicasFor(env))
	}

	return files
}

// replicasFor scales the default replica count by environment weight.
func replicasFor(env string) int {
	if env == "prod" {
		return 3
	}
	return 1
}
