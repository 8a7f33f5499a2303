package sdk

import "github.com/netstub/netstub/pkg/api"

// Glob matches with a shell-style pattern. For the URL field a glob also
// matches as a plain substring.
func Glob(pattern string) api.AnnotatedString {
	return *api.GlobString(pattern)
}

// Regex matches with a regular expression literal such as "/^\/api/i".
// The source is compiled with Go's RE2 syntax; lookaround and
// backreferences are rejected when the route is added.
func Regex(literal string) api.AnnotatedString {
	return *api.RegexString(literal)
}

// RouteBuilder assembles a route matcher. Fields left unset match every
// request.
type RouteBuilder struct {
	m api.RouteMatcher
}

func Route() *RouteBuilder {
	return &RouteBuilder{}
}

func (b *RouteBuilder) URL(p api.AnnotatedString) *RouteBuilder {
	b.m.URL = &p
	return b
}

func (b *RouteBuilder) Method(p api.AnnotatedString) *RouteBuilder {
	b.m.Method = &p
	return b
}

func (b *RouteBuilder) Hostname(p api.AnnotatedString) *RouteBuilder {
	b.m.Hostname = &p
	return b
}

// Path matches the pathname plus query string.
func (b *RouteBuilder) Path(p api.AnnotatedString) *RouteBuilder {
	b.m.Path = &p
	return b
}

func (b *RouteBuilder) Pathname(p api.AnnotatedString) *RouteBuilder {
	b.m.Pathname = &p
	return b
}

// Header adds a header constraint. Names are matched case-insensitively.
func (b *RouteBuilder) Header(name string, p api.AnnotatedString) *RouteBuilder {
	if b.m.Headers == nil {
		b.m.Headers = make(map[string]api.AnnotatedString)
	}
	b.m.Headers[name] = p
	return b
}

func (b *RouteBuilder) Query(key string, p api.AnnotatedString) *RouteBuilder {
	if b.m.Query == nil {
		b.m.Query = make(map[string]api.AnnotatedString)
	}
	b.m.Query[key] = p
	return b
}

// BasicAuth constrains the Basic credentials of the request.
func (b *RouteBuilder) BasicAuth(username, password api.AnnotatedString) *RouteBuilder {
	b.m.Auth = map[string]api.AnnotatedString{
		"username": username,
		"password": password,
	}
	return b
}

func (b *RouteBuilder) HTTPS(https bool) *RouteBuilder {
	b.m.HTTPS = &https
	return b
}

func (b *RouteBuilder) WebSocket(ws bool) *RouteBuilder {
	b.m.WebSocket = &ws
	return b
}

func (b *RouteBuilder) Port(port int) *RouteBuilder {
	b.m.Port = api.ExactPortSpec(port)
	return b
}

func (b *RouteBuilder) Ports(ports ...int) *RouteBuilder {
	b.m.Port = api.PortListSpec(ports...)
	return b
}

func (b *RouteBuilder) Build() api.RouteMatcher {
	return b.m
}
