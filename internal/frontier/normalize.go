package frontier

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// NormalizeKey validates raw and returns its deduplication key.
//
// The scheme and host are lowercased, leading zeros are stripped from the
// port and the default port for the scheme is dropped. Percent-escapes in the
// path are uppercased and escaped unreserved characters are decoded, so
// "/%7e" and "/~" share a key. The fragment and an empty "?" are removed, and
// an empty path becomes "/". The query string is kept byte for byte, so
// parameter order is significant. Only absolute http and https URLs with a
// host are accepted.
func NormalizeKey(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ValidationError{URL: raw, Reason: "empty url"}
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", &ValidationError{URL: raw, Reason: "unparseable url"}
	}
	if !u.IsAbs() {
		return "", &ValidationError{URL: raw, Reason: "not an absolute url"}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	defaultPort, ok := defaultPorts[u.Scheme]
	if !ok {
		return "", &ValidationError{URL: raw, Reason: "unsupported scheme " + u.Scheme}
	}
	if u.Opaque != "" || u.Hostname() == "" {
		return "", &ValidationError{URL: raw, Reason: "missing host"}
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if n, err := strconv.Atoi(port); err == nil {
		port = strconv.Itoa(n)
	}
	switch {
	case port != "" && port != defaultPort:
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	} else if escaped := normalizeEscapes(u.EscapedPath()); escaped != u.EscapedPath() {
		path, err := url.PathUnescape(escaped)
		if err != nil {
			return "", &ValidationError{URL: raw, Reason: "bad path escape"}
		}
		u.Path, u.RawPath = path, escaped
	}

	return u.String(), nil
}

// normalizeEscapes uppercases the hex digits of every %XX and decodes the
// ones that stand for unreserved characters (RFC 3986 section 6.2.2.2).
func normalizeEscapes(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2]) {
			b.WriteByte(s[i])
			continue
		}
		c := unhex(s[i+1])<<4 | unhex(s[i+2])
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(s[i+1 : i+3]))
		}
		i += 2
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func isUnreserved(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}
