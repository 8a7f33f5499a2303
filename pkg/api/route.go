package api

import (
	"bytes"
	"encoding/json"

	"github.com/fxamacker/cbor/v2"

	"github.com/netstub/netstub/internal/errx"
)

// Annotation types for string matchers on the wire.
const (
	MatcherTypeGlob  = "glob"
	MatcherTypeRegex = "regex"
)

// AnnotatedString carries a string matcher across the driver boundary.
// Regex values use the literal form "/source/flags"; a bare source is also
// accepted.
type AnnotatedString struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func GlobString(pattern string) *AnnotatedString {
	return &AnnotatedString{Type: MatcherTypeGlob, Value: pattern}
}

// RegexString annotates a "/source/flags" literal. The source must be valid
// RE2 syntax.
func RegexString(literal string) *AnnotatedString {
	return &AnnotatedString{Type: MatcherTypeRegex, Value: literal}
}

// RouteMatcher is the wire form of a route matcher. Absent fields impose
// no constraint.
type RouteMatcher struct {
	Auth      map[string]AnnotatedString `json:"auth,omitempty"`
	Headers   map[string]AnnotatedString `json:"headers,omitempty"`
	Hostname  *AnnotatedString           `json:"hostname,omitempty"`
	HTTPS     *bool                      `json:"https,omitempty"`
	Method    *AnnotatedString           `json:"method,omitempty"`
	Path      *AnnotatedString           `json:"path,omitempty"`
	Pathname  *AnnotatedString           `json:"pathname,omitempty"`
	Port      *PortSpec                  `json:"port,omitempty"`
	Query     map[string]AnnotatedString `json:"query,omitempty"`
	URL       *AnnotatedString           `json:"url,omitempty"`
	WebSocket *bool                      `json:"webSocket,omitempty"`
}

// PortSpec is either a single port or a list of allowed ports. On the wire
// it is a number or an array of numbers.
type PortSpec struct {
	Ports []int
	List  bool
}

func ExactPortSpec(port int) *PortSpec {
	return &PortSpec{Ports: []int{port}}
}

func PortListSpec(ports ...int) *PortSpec {
	return &PortSpec{Ports: append([]int(nil), ports...), List: true}
}

func (p PortSpec) wireValue() any {
	if p.List {
		return p.Ports
	}
	if len(p.Ports) == 0 {
		return 0
	}
	return p.Ports[0]
}

func (p PortSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.wireValue())
}

func (p *PortSpec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var ports []int
		if err := json.Unmarshal(trimmed, &ports); err != nil {
			return errx.Wrap(ErrInvalidPort, err)
		}
		*p = PortSpec{Ports: ports, List: true}
		return nil
	}
	var port int
	if err := json.Unmarshal(trimmed, &port); err != nil {
		return errx.Wrap(ErrInvalidPort, err)
	}
	*p = PortSpec{Ports: []int{port}}
	return nil
}

func (p PortSpec) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(p.wireValue())
}

func (p *PortSpec) UnmarshalCBOR(data []byte) error {
	var ports []int
	if err := cbor.Unmarshal(data, &ports); err == nil {
		*p = PortSpec{Ports: ports, List: true}
		return nil
	}
	var port int
	if err := cbor.Unmarshal(data, &port); err != nil {
		return errx.Wrap(ErrInvalidPort, err)
	}
	*p = PortSpec{Ports: []int{port}}
	return nil
}

// StaticResponse is a fixed reply the proxy writes without contacting
// upstream. DestroySocket takes precedence over every other field.
type StaticResponse struct {
	StatusCode    int               `json:"statusCode,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          *string           `json:"body,omitempty"`
	DestroySocket bool              `json:"destroySocket,omitempty"`
}

// SerializableRequest is the allow-listed request snapshot exchanged with
// the driver. Header names are lower-case; repeated values are joined
// with ", ". Fields left out of a continue frame keep their stored value.
type SerializableRequest struct {
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers"`
	Body        *string           `json:"body,omitempty"`
	HTTPVersion *string           `json:"httpVersion,omitempty"`
}

// String returns a pointer to s for the optional string fields of the
// wire types.
func String(s string) *string { return &s }

// SerializableResponse extends the request snapshot with the status line.
// URL is the URL of the request that produced the response.
type SerializableResponse struct {
	SerializableRequest
	StatusCode    int    `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}
