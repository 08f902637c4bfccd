package parse

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL returns a canonical form of a page URL for visited-set and scope checks.
// Scheme and host are lowercased, default ports and fragments are dropped, a
// trailing slash is removed from non-root paths, and query parameters are kept
// in sorted order since listing pages paginate through them.
// Does not modify the input *url.URL.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}
	normalized.RawPath = ""

	normalized.Fragment = ""
	normalized.RawFragment = ""
	if normalized.RawQuery != "" {
		normalized.RawQuery = normalized.Query().Encode()
	}

	return normalized.String()
}

// ParseAndNormalize parses a URL string using the stricter url.ParseRequestURI (requiring a scheme or absolute path)
// and then normalizes it using NormalizeURL.
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return NormalizeURL(parsed), parsed, nil
}

// SameHost reports whether two URLs share a host, ignoring case, default ports and a leading "www.".
func SameHost(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return canonicalHost(a) == canonicalHost(b)
}

func canonicalHost(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
