// Package matcher decides whether a proxied request satisfies a route
// matcher.
package matcher

import (
	"net/http"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// StringMatcher is either a shell-style glob or a compiled regular
// expression.
type StringMatcher struct {
	glob string
	re   *regexp.Regexp
}

func Glob(pattern string) StringMatcher {
	return StringMatcher{glob: pattern}
}

func Regex(re *regexp.Regexp) StringMatcher {
	return StringMatcher{re: re}
}

func (s StringMatcher) IsRegex() bool { return s.re != nil }

// Pattern returns the glob pattern, or the regex source for regex matchers.
func (s StringMatcher) Pattern() string {
	if s.re != nil {
		return s.re.String()
	}
	return s.glob
}

// matchField evaluates the matcher against candidate. The url field treats
// a glob as a substring first.
func (s StringMatcher) matchField(field, candidate string) bool {
	if s.re != nil {
		return s.re.MatchString(candidate)
	}
	if field == FieldURL && strings.Contains(candidate, s.glob) {
		return true
	}
	return matchGlob(s.glob, candidate)
}

// matchGlob matches the whole candidate, and for slash-free patterns also
// the candidate's last path segment.
func matchGlob(pattern, candidate string) bool {
	if ok, err := doublestar.Match(pattern, candidate); err == nil && ok {
		return true
	}
	if strings.Contains(pattern, "/") {
		return false
	}
	base := path.Base(candidate)
	if base == candidate {
		return false
	}
	ok, err := doublestar.Match(pattern, base)
	return err == nil && ok
}

// PortMatcher is either an exact port or a set of allowed ports.
type PortMatcher struct {
	ports []int
	oneOf bool
}

func ExactPort(port int) PortMatcher {
	return PortMatcher{ports: []int{port}}
}

func OneOfPorts(ports ...int) PortMatcher {
	return PortMatcher{ports: append([]int(nil), ports...), oneOf: true}
}

func (p PortMatcher) IsOneOf() bool { return p.oneOf }

func (p PortMatcher) Ports() []int { return append([]int(nil), p.ports...) }

func (p PortMatcher) Matches(port int) bool {
	if p.oneOf {
		return slices.Contains(p.ports, port)
	}
	return len(p.ports) == 1 && p.ports[0] == port
}

// Field names used when flattening dictionary matchers.
const (
	FieldURL      = "url"
	FieldMethod   = "method"
	FieldHostname = "hostname"
	FieldPath     = "path"
	FieldPathname = "pathname"
	FieldHeaders  = "headers"
	FieldQuery    = "query"
	FieldAuth     = "auth"
)

// RouteMatcher constrains which requests a route applies to. Nil and empty
// fields impose no constraint, so the zero value matches every request.
type RouteMatcher struct {
	URL      *StringMatcher
	Method   *StringMatcher
	Hostname *StringMatcher
	Path     *StringMatcher
	Pathname *StringMatcher

	Headers map[string]StringMatcher
	Query   map[string]StringMatcher
	Auth    map[string]StringMatcher

	HTTPS     *bool
	WebSocket *bool
	Port      *PortMatcher
}

// DoesMatch derives the matchable view of req and evaluates r against it.
func DoesMatch(r RouteMatcher, req *http.Request, webSocket bool) bool {
	return r.Matches(NewMatchable(req, webSocket))
}

// Matches reports whether every present constraint holds for m.
func (r RouteMatcher) Matches(m Matchable) bool {
	scalars := []struct {
		field string
		sm    *StringMatcher
		value string
	}{
		{FieldURL, r.URL, m.URL},
		{FieldMethod, r.Method, m.Method},
		{FieldHostname, r.Hostname, m.Hostname},
		{FieldPath, r.Path, m.Path},
		{FieldPathname, r.Pathname, m.Pathname},
	}
	for _, s := range scalars {
		if s.sm != nil && !s.sm.matchField(s.field, s.value) {
			return false
		}
	}

	if !matchDict(FieldHeaders, r.Headers, m.Headers, true) {
		return false
	}
	if !matchDict(FieldQuery, r.Query, m.Query, false) {
		return false
	}
	if !matchDict(FieldAuth, r.Auth, m.Auth, false) {
		return false
	}

	if r.HTTPS != nil && *r.HTTPS != m.HTTPS {
		return false
	}
	if r.WebSocket != nil && *r.WebSocket != m.WebSocket {
		return false
	}
	if r.Port != nil && !r.Port.Matches(m.Port) {
		return false
	}
	return true
}

// matchDict requires each key to match the request's value for that key;
// a missing value is matched as the empty string.
func matchDict(field string, want map[string]StringMatcher, have map[string]string, foldKeys bool) bool {
	for key, sm := range want {
		lookup := key
		if foldKeys {
			lookup = strings.ToLower(key)
		}
		if !sm.matchField(field+"."+key, have[lookup]) {
			return false
		}
	}
	return true
}
