// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/AleutianAI/negentropy/datatypes"
)

// extractText converts fetched content to plain text based on its
// declared content type. Markdown and JSON pass through unchanged;
// HTML is reduced to its text nodes. Binary formats are rejected.
func extractText(content, contentType string) (string, error) {
	mediaType := contentType
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	switch {
	case mediaType == "" || strings.HasPrefix(mediaType, "text/plain"),
		strings.HasPrefix(mediaType, "text/markdown"),
		strings.HasSuffix(mediaType, "json"),
		strings.HasSuffix(mediaType, "xml"),
		strings.HasPrefix(mediaType, "text/csv"):
		return content, nil
	case strings.Contains(mediaType, "html"):
		return extractHTML(content)
	case strings.HasPrefix(mediaType, "text/"):
		return content, nil
	default:
		return "", datatypes.ContentExtractionFailed(contentType,
			fmt.Errorf("unsupported content type"))
	}
}

// extractHTML walks the parsed document and collects text nodes,
// skipping script and style subtrees. Block elements become newlines
// so chunk boundaries stay sentence-aligned.
func extractHTML(content string) (string, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", datatypes.ContentExtractionFailed("text/html", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				sb.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteByte(' ')
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return strings.TrimSpace(sb.String()), nil
}
