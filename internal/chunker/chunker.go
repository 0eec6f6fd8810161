// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

// Package chunker splits tiddler text into bounded-size pieces suitable
// for one embedding call each. Splitting is pure: the same input always
// produces the same chunks.
package chunker

import (
	"regexp"
	"strings"
)

// CharsPerToken is the estimation ratio used throughout the token budget
// math. Embedding endpoints count tokens differently per model; four
// characters per token is a serviceable upper-bound estimate for English
// prose and wikitext.
const CharsPerToken = 4

// DefaultMaxTokens bounds a single chunk.
const DefaultMaxTokens = 512

var (
	paragraphSep = regexp.MustCompile(`\n\s*\n`)
	sentenceRe   = regexp.MustCompile(`[^.!?]+[.!?]*\s*`)
)

// EstimateTokens returns the estimated token count for text.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// Split breaks text into chunks of at most maxTokens estimated tokens.
//
// Text that fits whole is returned as a single chunk. Otherwise the text
// is split on blank-line paragraph boundaries and paragraphs are greedily
// packed; a single paragraph that alone exceeds the budget is re-split on
// sentence boundaries with the same greedy packing. All chunks are
// trimmed and empty chunks dropped.
//
// Empty input yields a single empty chunk; callers handle zero-content
// tiddlers before chunking.
func Split(text string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	trimmed := strings.TrimSpace(text)
	if EstimateTokens(trimmed) <= maxTokens {
		return []string{trimmed}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		c := strings.TrimSpace(current.String())
		if c != "" {
			chunks = append(chunks, c)
		}
		current.Reset()
	}

	for _, para := range paragraphSep.Split(trimmed, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if EstimateTokens(para) > maxTokens {
			// Oversized paragraph: flush whatever is pending, then pack
			// the paragraph sentence by sentence.
			flush()
			chunks = append(chunks, splitSentences(para, maxTokens)...)
			continue
		}

		if current.Len() > 0 && EstimateTokens(current.String())+EstimateTokens(para) > maxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	if len(chunks) == 0 {
		return []string{""}
	}
	return chunks
}

// splitSentences greedily packs the sentences of a single oversized
// paragraph. Sentences missing terminal punctuation get a period appended
// for accumulation; the inserted punctuation stays in the chunk.
func splitSentences(para string, maxTokens int) []string {
	sentences := sentenceRe.FindAllString(para, -1)
	if len(sentences) == 0 {
		sentences = []string{para}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		c := strings.TrimSpace(current.String())
		if c != "" {
			chunks = append(chunks, c)
		}
		current.Reset()
	}

	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") {
			s += "."
		}

		if current.Len() > 0 && EstimateTokens(current.String())+EstimateTokens(s) > maxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(s)
	}
	flush()

	return chunks
}
