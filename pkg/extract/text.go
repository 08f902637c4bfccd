package extract

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	repeatedSpaceRegex = regexp.MustCompile(`[\s\x{00a0}]+`)
	lineBreakRegex     = regexp.MustCompile(`(?i)<br\s*/?>`)
)

// textCleaner strips markup from HTML fragments. bluemonday policies are not
// cheap to build, so they are pooled.
type textCleaner struct {
	policyPool sync.Pool
}

func newTextCleaner() *textCleaner {
	return &textCleaner{
		policyPool: sync.Pool{
			New: func() any {
				return bluemonday.StrictPolicy()
			},
		},
	}
}

// Clean returns the fragment's text with whitespace collapsed and entities decoded.
func (c *textCleaner) Clean(fragment string) string {
	policy := c.policyPool.Get().(*bluemonday.Policy)
	defer c.policyPool.Put(policy)

	clean := repeatedSpaceRegex.ReplaceAllString(policy.Sanitize(fragment), " ")
	return strings.TrimSpace(html.UnescapeString(clean))
}

// CleanLines is Clean, but <br> separated text comes back as separate lines.
func (c *textCleaner) CleanLines(fragment string) []string {
	policy := c.policyPool.Get().(*bluemonday.Policy)
	defer c.policyPool.Put(policy)

	text := policy.Sanitize(lineBreakRegex.ReplaceAllString(fragment, "\n"))
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(html.UnescapeString(repeatedSpaceRegex.ReplaceAllString(raw, " ")))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// collapse normalizes whitespace in already-plain text
func collapse(s string) string {
	return strings.TrimSpace(repeatedSpaceRegex.ReplaceAllString(s, " "))
}
