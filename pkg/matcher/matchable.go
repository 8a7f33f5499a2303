package matcher

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultHTTPPort  = 80
	defaultHTTPSPort = 443
)

// Matchable is the view of a request that matchers are evaluated against.
type Matchable struct {
	URL      string
	Method   string
	Hostname string
	Path     string
	Pathname string
	Port     int
	HTTPS    bool

	WebSocket bool

	// Headers has lower-case names; repeated values are joined with ", ".
	Headers map[string]string
	// Query joins repeated values with ",".
	Query map[string]string
	// Auth holds "username" and "password" when the request carries a
	// well-formed Basic Authorization header, and is nil otherwise.
	Auth map[string]string
}

// NewMatchable derives the matchable view of req. req.URL should be the
// fully-qualified proxied URL; a relative URL is completed from req.Host
// and req.TLS.
func NewMatchable(req *http.Request, webSocket bool) Matchable {
	u := RequestURL(req)

	m := Matchable{
		URL:       u.String(),
		Method:    req.Method,
		Hostname:  u.Hostname(),
		Pathname:  u.EscapedPath(),
		HTTPS:     u.Scheme == "https",
		WebSocket: webSocket,
		Headers:   FlattenHeaders(req.Header, req.Host),
		Query:     make(map[string]string),
	}
	if m.Pathname == "" {
		m.Pathname = "/"
	}
	m.Path = m.Pathname
	if u.RawQuery != "" {
		m.Path += "?" + u.RawQuery
	}

	m.Port = defaultHTTPPort
	if m.HTTPS {
		m.Port = defaultHTTPSPort
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			m.Port = n
		}
	}

	for key, values := range u.Query() {
		m.Query[key] = strings.Join(values, ",")
	}

	if user, pass, ok := req.BasicAuth(); ok {
		m.Auth = map[string]string{"username": user, "password": pass}
	}
	return m
}

// RequestURL returns a copy of req.URL completed with scheme and host.
func RequestURL(req *http.Request) *url.URL {
	u := &url.URL{}
	if req.URL != nil {
		*u = *req.URL
	}
	if u.Host == "" {
		u.Host = req.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if req.TLS != nil {
			u.Scheme = "https"
		}
	}
	return u
}

// FlattenHeaders lower-cases header names and joins repeated values. The
// Host header, which net/http keeps outside the header map, is restored.
func FlattenHeaders(h http.Header, host string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	if _, ok := out["host"]; !ok && host != "" {
		out["host"] = host
	}
	return out
}
