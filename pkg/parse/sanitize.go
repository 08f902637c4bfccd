package parse

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	explicitSchemeRe = regexp.MustCompile(`(?i)^[a-z]+://`)
	// Browsers ignore embedded tabs and newlines when resolving a scheme.
	schemeNoiseRe = regexp.MustCompile(`[\x00-\x20\x7f]+`)
)

var rejectedSchemes = []string{"javascript:", "data:"}

// Sanitize turns an extracted href or URL-ish string into a value safe to store.
//
// Script and data URLs are rejected with an empty result. Values with an
// explicit scheme, site-relative paths and anchors are returned trimmed. A
// bare value containing a dot is taken as a domain and prefixed with https://.
// Anything else is a plain label and is returned trimmed; use IsNavigable to
// tell labels from links.
//
// Sanitize is pure and idempotent.
func Sanitize(input string) string {
	trimmed := strings.TrimSpace(input)
	lowered := strings.ToLower(schemeNoiseRe.ReplaceAllString(trimmed, ""))
	for _, scheme := range rejectedSchemes {
		if strings.HasPrefix(lowered, scheme) {
			return ""
		}
	}

	switch {
	case trimmed == "":
		return ""
	case explicitSchemeRe.MatchString(trimmed),
		strings.HasPrefix(trimmed, "/"),
		strings.HasPrefix(trimmed, "#"):
		return trimmed
	case strings.Contains(trimmed, "."):
		return "https://" + trimmed
	default:
		return trimmed
	}
}

// IsNavigable reports whether a sanitized value points somewhere. Labels, empty
// values and the bare "#" placeholder are not navigable.
func IsNavigable(sanitized string) bool {
	if sanitized == "" || sanitized == "#" {
		return false
	}
	return explicitSchemeRe.MatchString(sanitized) ||
		strings.HasPrefix(sanitized, "/") ||
		strings.HasPrefix(sanitized, "#")
}

// Resolve sanitizes href and, when it is navigable, resolves it against the
// page it was found on. The boolean is false for rejected values and labels.
// Absolute results are returned as-is so that the stored value is still a
// fixed point of Sanitize.
func Resolve(base *url.URL, href string) (string, bool) {
	clean := Sanitize(href)
	if !IsNavigable(clean) {
		return "", false
	}
	if explicitSchemeRe.MatchString(clean) || base == nil {
		return clean, true
	}
	ref, err := url.Parse(clean)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref).String()
	// Resolution can only produce an absolute URL here; re-sanitize to keep the invariant.
	abs = Sanitize(abs)
	return abs, abs != ""
}
