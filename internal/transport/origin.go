package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidURL  = errors.New("transport: invalid url")
	ErrCrossOrigin = errors.New("transport: cross-origin url")
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// OriginOf returns scheme://host[:port] for u with the scheme's default port
// dropped. Opaque or host-less URLs have the origin "null".
func OriginOf(u *url.URL) string {
	if u == nil || u.Opaque != "" || u.Host == "" || u.Scheme == "" {
		return "null"
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == "" {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + port
}

// ParseOrigin parses an absolute origin such as "http://127.0.0.1:8080".
// Any path on the input is kept so it can serve as a resolution base.
func ParseOrigin(raw string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if OriginOf(base) == "null" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidOrigin, raw)
	}
	return base, nil
}

// ResolveSameOrigin resolves raw against origin and requires the result to
// share origin's scheme, host and port.
func ResolveSameOrigin(raw, origin string) (*url.URL, error) {
	base, err := ParseOrigin(origin)
	if err != nil {
		return nil, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	target := base.ResolveReference(ref)
	want := OriginOf(base)
	if got := OriginOf(target); got != want {
		path := strings.TrimPrefix(target.EscapedPath(), "/")
		return nil, fmt.Errorf(
			"%w: game url origin %q does not match %q; try %q or just %q",
			ErrCrossOrigin, got, want, want+"/"+path, path,
		)
	}
	return target, nil
}
