package matcher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/netstub/netstub/internal/errx"
	"github.com/netstub/netstub/pkg/api"
)

// FromWire restores the native matcher from its annotated wire form.
func FromWire(w api.RouteMatcher) (RouteMatcher, error) {
	var (
		r   RouteMatcher
		err error
	)
	scalars := []struct {
		field string
		in    *api.AnnotatedString
		out   **StringMatcher
	}{
		{FieldURL, w.URL, &r.URL},
		{FieldMethod, w.Method, &r.Method},
		{FieldHostname, w.Hostname, &r.Hostname},
		{FieldPath, w.Path, &r.Path},
		{FieldPathname, w.Pathname, &r.Pathname},
	}
	for _, s := range scalars {
		if s.in == nil {
			continue
		}
		sm, err := fromAnnotated(s.field, *s.in)
		if err != nil {
			return RouteMatcher{}, err
		}
		*s.out = &sm
	}

	if r.Headers, err = dictFromWire(FieldHeaders, w.Headers); err != nil {
		return RouteMatcher{}, err
	}
	if r.Query, err = dictFromWire(FieldQuery, w.Query); err != nil {
		return RouteMatcher{}, err
	}
	if r.Auth, err = dictFromWire(FieldAuth, w.Auth); err != nil {
		return RouteMatcher{}, err
	}

	r.HTTPS = cloneBool(w.HTTPS)
	r.WebSocket = cloneBool(w.WebSocket)
	if w.Port != nil {
		var pm PortMatcher
		if w.Port.List {
			pm = OneOfPorts(w.Port.Ports...)
		} else {
			if len(w.Port.Ports) != 1 {
				return RouteMatcher{}, errx.With(api.ErrInvalidPort, ": exact port needs one value, got %d", len(w.Port.Ports))
			}
			pm = ExactPort(w.Port.Ports[0])
		}
		r.Port = &pm
	}
	return r, nil
}

// ToWire annotates r for the driver boundary. Regex matchers are written
// as "/source/"; flags are carried inline by the Go syntax.
func ToWire(r RouteMatcher) api.RouteMatcher {
	w := api.RouteMatcher{
		URL:       toAnnotated(r.URL),
		Method:    toAnnotated(r.Method),
		Hostname:  toAnnotated(r.Hostname),
		Path:      toAnnotated(r.Path),
		Pathname:  toAnnotated(r.Pathname),
		Headers:   dictToWire(r.Headers),
		Query:     dictToWire(r.Query),
		Auth:      dictToWire(r.Auth),
		HTTPS:     cloneBool(r.HTTPS),
		WebSocket: cloneBool(r.WebSocket),
	}
	if r.Port != nil {
		if r.Port.oneOf {
			w.Port = api.PortListSpec(r.Port.ports...)
		} else if len(r.Port.ports) == 1 {
			w.Port = api.ExactPortSpec(r.Port.ports[0])
		}
	}
	return w
}

func fromAnnotated(field string, a api.AnnotatedString) (StringMatcher, error) {
	switch a.Type {
	case api.MatcherTypeGlob, "":
		return Glob(a.Value), nil
	case api.MatcherTypeRegex:
		re, err := ParseRegexLiteral(a.Value)
		if err != nil {
			return StringMatcher{}, fmt.Errorf("%s: %w", field, err)
		}
		return Regex(re), nil
	default:
		return StringMatcher{}, errx.With(ErrUnknownMatcherType, " %q for %s", a.Type, field)
	}
}

func toAnnotated(sm *StringMatcher) *api.AnnotatedString {
	if sm == nil {
		return nil
	}
	a := annotate(*sm)
	return &a
}

func annotate(sm StringMatcher) api.AnnotatedString {
	if sm.re != nil {
		return api.AnnotatedString{Type: api.MatcherTypeRegex, Value: "/" + sm.re.String() + "/"}
	}
	return api.AnnotatedString{Type: api.MatcherTypeGlob, Value: sm.glob}
}

func dictFromWire(field string, in map[string]api.AnnotatedString) (map[string]StringMatcher, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]StringMatcher, len(in))
	for key, a := range in {
		sm, err := fromAnnotated(field+"."+key, a)
		if err != nil {
			return nil, err
		}
		out[key] = sm
	}
	return out, nil
}

func dictToWire(in map[string]StringMatcher) map[string]api.AnnotatedString {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]api.AnnotatedString, len(in))
	for key, sm := range in {
		out[key] = annotate(sm)
	}
	return out
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// ParseRegexLiteral compiles a "/source/flags" literal. Flags i, m and s
// map to the Go equivalents; g, u, y and d have no meaning for a single
// match and are dropped. A value that is not a well-formed literal is
// compiled as a bare source. Sources use RE2 syntax, so lookaround and
// backreferences fail with ErrInvalidRegex.
func ParseRegexLiteral(literal string) (*regexp.Regexp, error) {
	src := literal
	if s, flags, ok := splitRegexLiteral(literal); ok {
		src = s
		if flags != "" {
			src = "(?" + flags + ")" + src
		}
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, errx.With(ErrInvalidRegex, " %q: %v", literal, err)
	}
	return re, nil
}

func splitRegexLiteral(literal string) (string, string, bool) {
	if len(literal) < 2 || literal[0] != '/' {
		return "", "", false
	}
	last := strings.LastIndex(literal, "/")
	if last == 0 {
		return "", "", false
	}
	var goFlags strings.Builder
	for _, f := range literal[last+1:] {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(goFlags.String(), f) {
				goFlags.WriteRune(f)
			}
		case 'g', 'u', 'y', 'd':
		default:
			return "", "", false
		}
	}
	return literal[1:last], goFlags.String(), true
}
