// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publish

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitLabAPI emulates the REST surface the publisher touches.
type fakeGitLabAPI struct {
	mu           sync.Mutex
	calls        []recordedCall
	branchExists bool
	fileExists   bool
}

func (f *fakeGitLabAPI) record(r *http.Request) recordedCall {
	body, _ := io.ReadAll(r.Body)
	call := recordedCall{Method: r.Method, Path: r.URL.Path, Body: string(body)}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return call
}

func (f *fakeGitLabAPI) callsMatching(method, fragment string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if c.Method == method && strings.Contains(c.Path, fragment) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeGitLabAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := f.record(r)
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(call.Path, "/repository/branches"):
			if f.branchExists {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"message":"Branch already exists"}`)
				return
			}
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"name":"created"}`)

		case r.Method == http.MethodGet && strings.Contains(call.Path, "/repository/files/"):
			if !f.fileExists {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"message":"404 File Not Found"}`)
				return
			}
			fmt.Fprint(w, `{"file_name":"x","file_path":"x","content":"","encoding":"base64"}`)

		case r.Method == http.MethodPost && strings.Contains(call.Path, "/repository/files/"):
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"file_path":"created","branch":"b"}`)

		case r.Method == http.MethodPut && strings.Contains(call.Path, "/repository/files/"):
			fmt.Fprint(w, `{"file_path":"updated","branch":"b"}`)

		case r.Method == http.MethodPost && strings.HasSuffix(call.Path, "/merge_requests"):
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"iid":3,"web_url":"https://gitlab.com/infra/terraform/-/merge_requests/3"}`)

		case r.Method == http.MethodPost && strings.Contains(call.Path, "/notes"):
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":1}`)

		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"unhandled"}`)
		}
	})
}

func newTestGitLab(t *testing.T, api *fakeGitLabAPI) *GitLab {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	pub, err := NewGitLab(GitLabConfig{Token: "test-token", BaseURL: srv.URL})
	require.NoError(t, err)
	return pub
}

func TestNewGitLab_RequiresToken(t *testing.T) {
	_, err := NewGitLab(GitLabConfig{})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestGitLab_Publish(t *testing.T) {
	api := &fakeGitLabAPI{}
	pub := newTestGitLab(t, api)

	proposal, err := pub.Publish(context.Background(), Request{
		RepoURL:    "https://gitlab.com/infra/terraform",
		BranchName: "fops-pipeline-20250701-100000",
		Title:      "[F-Ops] Add CI/CD Pipeline",
		Body:       "body",
		Files:      map[string]string{".gitlab-ci.yml": "stages: [build]\n"},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://gitlab.com/infra/terraform/-/merge_requests/3", proposal.URL)
	assert.Equal(t, 3, proposal.Number)
	assert.Equal(t, "gitlab", proposal.Platform)

	branches := api.callsMatching(http.MethodPost, "/repository/branches")
	require.Len(t, branches, 1)

	creates := api.callsMatching(http.MethodPost, "/repository/files/")
	require.Len(t, creates, 1)
	assert.Contains(t, creates[0].Body, `"commit_message":"Add .gitlab-ci.yml"`)

	mrs := api.callsMatching(http.MethodPost, "/merge_requests")
	require.Len(t, mrs, 1)
	assert.Contains(t, mrs[0].Body, `"source_branch":"fops-pipeline-20250701-100000"`)
	assert.Contains(t, mrs[0].Body, `"target_branch":"main"`)
}

func TestGitLab_Publish_BranchCollisionTolerated(t *testing.T) {
	api := &fakeGitLabAPI{branchExists: true}
	pub := newTestGitLab(t, api)

	_, err := pub.Publish(context.Background(), Request{
		RepoURL:    "https://gitlab.com/infra/terraform",
		BranchName: "fops-pipeline-20250701-100000",
		Title:      "[F-Ops] Add CI/CD Pipeline",
		Files:      map[string]string{".gitlab-ci.yml": "stages: [build]\n"},
	})
	assert.NoError(t, err, "an existing branch is reused, not an error")
}

func TestGitLab_Publish_ExistingFileUpdated(t *testing.T) {
	api := &fakeGitLabAPI{fileExists: true}
	pub := newTestGitLab(t, api)

	_, err := pub.Publish(context.Background(), Request{
		RepoURL:    "https://gitlab.com/infra/terraform",
		BranchName: "fops-pipeline-20250701-100000",
		Title:      "[F-Ops] Add CI/CD Pipeline",
		Files:      map[string]string{".gitlab-ci.yml": "stages: [build]\n"},
	})
	require.NoError(t, err)

	updates := api.callsMatching(http.MethodPut, "/repository/files/")
	require.Len(t, updates, 1)
	assert.Contains(t, updates[0].Body, `"commit_message":"Update .gitlab-ci.yml"`)
}

func TestGitLab_Attach(t *testing.T) {
	api := &fakeGitLabAPI{}
	pub := newTestGitLab(t, api)

	err := pub.Attach(context.Background(),
		"https://gitlab.com/infra/terraform/-/merge_requests/3",
		Artifacts{"pipeline_validation": "passed"})
	require.NoError(t, err)

	notes := api.callsMatching(http.MethodPost, "/notes")
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Body, "F-Ops Dry-Run Artifacts")
}

func TestGitLab_Attach_RejectsMalformedURL(t *testing.T) {
	pub := newTestGitLab(t, &fakeGitLabAPI{})

	err := pub.Attach(context.Background(),
		"https://gitlab.com/infra/terraform/merge_requests/3", Artifacts{})
	assert.ErrorIs(t, err, ErrInvalidRepoURL)
}
