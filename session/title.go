// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"strings"

	"github.com/AleutianAI/negentropy/config"
	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/provider"
)

const titleSystemPrompt = "You title conversations. Reply with a concise title " +
	"(at most 8 words) for the conversation excerpt. No quotes, no punctuation at the end."

// maxTitleSourceChars caps how much conversation text is sent to the model.
const maxTitleSourceChars = 2000

// Titler generates short session titles from early conversation turns.
type Titler struct {
	model  provider.ChatModel
	params config.GenerationParams
}

// NewTitler wraps a chat model for title generation.
func NewTitler(model provider.ChatModel) *Titler {
	return &Titler{
		model:  model,
		params: config.GenerationParams{Temperature: 0.3, MaxTokens: 32},
	}
}

// Generate produces a title from the session's non-tool events. Returns
// an empty string when the session has no usable text.
func (t *Titler) Generate(ctx context.Context, sess *datatypes.Session) (string, error) {
	var sb strings.Builder
	for _, ev := range sess.Events {
		if ev.Author == datatypes.AuthorTool {
			continue
		}
		text := ev.Content.CombinedText()
		if text == "" {
			continue
		}
		sb.WriteString(string(ev.Author))
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n")
		if sb.Len() >= maxTitleSourceChars {
			break
		}
	}
	excerpt := sb.String()
	if strings.TrimSpace(excerpt) == "" {
		return "", nil
	}
	if len(excerpt) > maxTitleSourceChars {
		excerpt = excerpt[:maxTitleSourceChars]
	}

	title, err := t.model.Complete(ctx, titleSystemPrompt, excerpt, t.params)
	if err != nil {
		return "", err
	}
	return cleanTitle(title), nil
}

// cleanTitle strips wrapping quotes and trailing punctuation that models
// add despite instructions.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimRight(s, ".!")
	if len(s) > 120 {
		s = strings.TrimSpace(s[:120])
	}
	return s
}
