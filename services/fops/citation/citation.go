// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package citation binds knowledge-base provenance to generated artifacts.
//
// Every generated file that drew on retrieved sources carries a trailing
// "# Citations" section so a reviewer can trace each decision back to the
// knowledge base entry that motivated it. The hash recorded for usage
// tracking is computed over the ORIGINAL content, before the footer is
// appended: two generations that produced the same artifact from different
// sources must collide on content and differ on sources.
package citation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Source is a knowledge-base entry that contributed to a generation.
type Source struct {
	// Citation is the stable KB reference, e.g. "[kb:pipelines:001]".
	Citation string `json:"citation"`
	// Title is the human-readable entry title shown in the footer.
	Title string `json:"title"`
}

// Bound is content with its citation footer attached.
type Bound struct {
	// Content is the artifact text including the footer (when sources
	// were provided).
	Content string `json:"content"`
	// ContentHash is the hex SHA-256 of the original content, without
	// the footer.
	ContentHash string `json:"content_hash"`
	// Citations lists the source references in footer order.
	Citations []string `json:"citations"`
}

// Report describes how well-cited a piece of content is.
type Report struct {
	HasCitations  bool `json:"has_citations"`
	CitationCount int  `json:"citation_count"`
	HasSection    bool `json:"has_citation_section"`
	Valid         bool `json:"valid"`
}

// Bind appends a citation footer to generated content.
//
// Description:
//
//	Produces a "# Citations" section with one numbered line per source:
//
//	  # [1] <citation>: <title>
//
//	Every footer line is "#"-prefixed so the footer parses as a trailing
//	comment block in the formats artifacts ship in (YAML pipelines, HCL,
//	Dockerfiles). Sources keep their given order (retrieval relevance
//	order). A source without a title is rendered as "Untitled". With no
//	sources the content is returned unchanged, still with its pre-footer
//	hash, so callers can track usage uniformly.
func Bind(content string, sources []Source) Bound {
	sum := sha256.Sum256([]byte(content))
	b := Bound{
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
		Citations:   make([]string, 0, len(sources)),
	}

	if len(sources) == 0 {
		return b
	}

	var sb strings.Builder
	sb.WriteString(content)
	sb.WriteString("\n\n# Citations\n")
	for i, src := range sources {
		title := src.Title
		if strings.TrimSpace(title) == "" {
			title = "Untitled"
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "# [%d] %s: %s", i+1, src.Citation, title)
		b.Citations = append(b.Citations, src.Citation)
	}

	b.Content = sb.String()
	return b
}

// Validate reports whether content carries a well-formed citation footer.
//
// Purely lexical, like the footer itself: bracketed references are counted
// and the section heading is required. Used as a publish-time sanity check
// on KB-derived artifacts.
func Validate(content string) Report {
	count := strings.Count(content, "[")
	hasSection := strings.Contains(content, "# Citations")

	return Report{
		HasCitations:  count > 0,
		CitationCount: count,
		HasSection:    hasSection,
		Valid:         count > 0 && hasSection,
	}
}
