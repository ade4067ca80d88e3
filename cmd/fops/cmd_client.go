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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// apiClient is a thin HTTP client for a running F-Ops server.
//
// Proposals run sandboxed tool dry-runs on the server side, so the
// timeout is generous.
var apiClient = &http.Client{Timeout: 10 * time.Minute}

// postJSON sends a JSON body to the server and prints the response.
// Exits non-zero on transport failure or a non-2xx status.
func postJSON(path string, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		fatalf("Error encoding request: %v", err)
	}

	resp, err := apiClient.Post(apiURL(path), "application/json", bytes.NewReader(payload))
	if err != nil {
		fatalf("Error contacting F-Ops server at %s: %v\nIs the server running? Start it with 'fops serve'.", serverURL, err)
	}
	defer resp.Body.Close()

	printResponse(resp)
}

// getJSON fetches a server path with query parameters and prints the
// response.
func getJSON(path string, query url.Values) {
	u := apiURL(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	resp, err := apiClient.Get(u)
	if err != nil {
		fatalf("Error contacting F-Ops server at %s: %v\nIs the server running? Start it with 'fops serve'.", serverURL, err)
	}
	defer resp.Body.Close()

	printResponse(resp)
}

func apiURL(path string) string {
	return strings.TrimSuffix(serverURL, "/") + path
}

// printResponse writes the response body to stdout, indented when
// stdout is a terminal so piped output stays machine-parseable.
func printResponse(resp *http.Response) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("Error reading response: %v", err)
	}

	out := data
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		var buf bytes.Buffer
		if json.Indent(&buf, data, "", "  ") == nil {
			out = buf.Bytes()
		}
	}

	fmt.Println(string(out))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "Request failed with status %s\n", resp.Status)
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
