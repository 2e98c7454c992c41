package protocol

import (
	"fmt"
	"net/url"
	"strings"
)

// splitScheme separates an explicit scheme from a relay address
func splitScheme(addr string) (scheme, rest string) {
	addr = strings.TrimSpace(addr)
	if i := strings.Index(addr, "://"); i > 0 {
		return strings.ToLower(addr[:i]), addr[i+3:]
	}
	return "", addr
}

// HTTPBaseURL derives the HTTP(S) base of a relay address. Addresses without
// a scheme default to plain http. secure reports an explicit https/wss scheme.
func HTTPBaseURL(addr string) (base string, secure bool, err error) {
	scheme, rest := splitScheme(addr)
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return "", false, fmt.Errorf("empty relay address")
	}

	switch scheme {
	case "", "http", "ws":
		base = "http://" + rest
	case "https", "wss":
		base, secure = "https://"+rest, true
	default:
		return "", false, fmt.Errorf("unsupported relay scheme %q", scheme)
	}

	if _, err := url.Parse(base); err != nil {
		return "", false, fmt.Errorf("invalid relay address %q: %w", addr, err)
	}
	return base, secure, nil
}

// InsecureFallback rewrites an https base to http
func InsecureFallback(base string) string {
	return "http://" + strings.TrimPrefix(base, "https://")
}

// WebSocketURL builds the session endpoint for a relay address
func WebSocketURL(addr string) (string, error) {
	base, secure, err := HTTPBaseURL(addr)
	if err != nil {
		return "", err
	}
	if secure {
		return "wss://" + strings.TrimPrefix(base, "https://") + SocketPath, nil
	}
	return "ws://" + strings.TrimPrefix(base, "http://") + SocketPath, nil
}

// ResolveURL resolves a possibly relative image URL against a base URL
func ResolveURL(base, ref string) (string, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid image url %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	if base == "" {
		return "", fmt.Errorf("relative image url %q without a relay base", ref)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay base %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}
