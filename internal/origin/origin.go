// Package origin normalizes browser Origin headers and decides whether an
// origin may reach the relay's HTTP and WebSocket surface.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates an Origin header and returns its canonical
// scheme://host[:port] form plus the host[:port] part for same-host
// comparisons. Default ports are stripped. The opaque Origin "null" is
// accepted and returned as-is.
func Normalize(header string) (normalized, host string, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "", false
	}
	if header == "null" {
		return "null", "", true
	}

	u, err := url.Parse(header)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Allowed reports whether the normalized origin may access the given request
// host. A non-empty allowlist is authoritative: entries are either "*" or
// normalized origins. With an empty allowlist the policy is same-host only;
// scheme is deliberately not compared because a TLS-terminating proxy may
// present the request as plain HTTP.
func Allowed(normalized, originHost, requestHost string, allowlist []string) bool {
	if len(allowlist) > 0 {
		for _, entry := range allowlist {
			if entry == "*" || entry == normalized {
				return true
			}
		}
		return false
	}

	var scheme string
	switch {
	case strings.HasPrefix(normalized, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalized, "https://"):
		scheme = "https"
	default:
		// "null" never matches a host-based request.
		return false
	}

	reqHost, ok := canonicalHost(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// canonicalHost lowercases the hostname, validates the port, and strips it
// when it is the scheme's default. IPv6 literals keep their brackets.
func canonicalHost(authority, scheme string) (string, bool) {
	hostname, portStr, ok := splitAuthority(strings.ToLower(authority))
	if !ok || hostname == "" {
		return "", false
	}

	var port int
	if portStr != "" {
		n, err := strconv.Atoi(portStr)
		if err != nil || n <= 0 || n > 65535 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.Itoa(port)
	}
	return host, true
}

func splitAuthority(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = authority[1:end]
		rest := authority[end+1:]
		switch {
		case rest == "":
			return hostname, "", true
		case strings.HasPrefix(rest, ":") && len(rest) > 1:
			return hostname, rest[1:], true
		default:
			return "", "", false
		}
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		i := strings.IndexByte(authority, ':')
		if i == 0 || i == len(authority)-1 {
			return "", "", false
		}
		return authority[:i], authority[i+1:], true
	default:
		// Unbracketed IPv6 literals are not valid authority components.
		return "", "", false
	}
}
