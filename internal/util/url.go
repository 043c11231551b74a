package util

import (
	"net/url"
	"strings"
)

// IsRedirectSafe validates that a post-login redirect target is safe.
// Only relative paths (not protocol-relative) and absolute URLs on the
// baseURL host are accepted.
func IsRedirectSafe(redirectURL, baseURL string) bool {
	if redirectURL == "" {
		return true
	}
	if strings.ContainsAny(redirectURL, "\r\n") {
		return false
	}
	if strings.HasPrefix(redirectURL, "/") {
		if strings.HasPrefix(redirectURL, "//") {
			return false
		}
		if strings.Contains(redirectURL, "\\") {
			return false
		}
		return true
	}

	parsedRedirect, err := url.Parse(redirectURL)
	if err != nil {
		return false
	}
	if parsedRedirect.Scheme != "" && parsedRedirect.Scheme != "http" &&
		parsedRedirect.Scheme != "https" {
		return false
	}
	if parsedRedirect.Host != "" {
		parsedBase, err := url.Parse(baseURL)
		if err != nil {
			return false
		}
		if parsedRedirect.Host != parsedBase.Host {
			return false
		}
	}
	return true
}

// RedirectURIMatches reports whether a requested redirect_uri is covered by a
// registered one. Matching is exact after trailing-slash normalization, with
// one development carve-out: a registered http://localhost URI matches any
// port on the same path.
func RedirectURIMatches(registered, requested string) bool {
	if registered == "" || requested == "" {
		return false
	}

	normalize := func(s string) string {
		if len(s) > 1 {
			return strings.TrimRight(s, "/")
		}
		return s
	}
	if normalize(registered) == normalize(requested) {
		return true
	}

	reg, err := url.Parse(registered)
	if err != nil {
		return false
	}
	req, err := url.Parse(requested)
	if err != nil {
		return false
	}

	// localhost-any-port: local dev servers bind whatever port is free
	if reg.Scheme == "http" && req.Scheme == "http" &&
		isLocalhost(reg.Hostname()) && reg.Hostname() == req.Hostname() {
		return normalize(reg.Path) == normalize(req.Path)
	}

	return false
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "[::1]" || host == "::1"
}
