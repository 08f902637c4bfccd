package assist

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const chunkOverlap = 32

// budgetText keeps the leading markdown sections of a posting that fit in
// maxTokens. Sections are split on headings first, then recursively when a
// single section is still too large.
func budgetText(markdown string, maxTokens int) (string, error) {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" || CountTokens(markdown) <= maxTokens {
		return markdown, nil
	}

	chunkSize := maxTokens / 2
	if chunkSize < 64 {
		chunkSize = 64
	}
	recursiveSplitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithLenFunc(CountTokens),
	)
	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithHeadingHierarchy(true),
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSecondSplitter(recursiveSplitter),
		textsplitter.WithLenFunc(CountTokens),
	)

	parts, err := splitter.SplitText(markdown)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	used := 0
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n := CountTokens(part)
		if used+n > maxTokens {
			if used == 0 {
				return TruncateTokens(part, maxTokens), nil
			}
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
			used++
		}
		b.WriteString(part)
		used += n
	}
	return b.String(), nil
}
