package harvest

import (
	"net/url"
	"strings"
)

// normalizeURL lowercases scheme and host and drops fragments so equivalent
// URLs collapse to one target.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// Host returns the lowercased host of raw, or "" if it cannot be parsed.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
