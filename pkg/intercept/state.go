package intercept

import (
	"net/http"

	"github.com/netstub/netstub/pkg/route"
)

// Phase is the lifecycle state of an intercepted exchange.
type Phase int

const (
	PhaseUnmatched Phase = iota
	PhaseAwaitingRequestContinue
	PhaseRequestResumed
	PhaseAwaitingResponseContinue
	PhaseCompleted
	PhaseStaticResponded
)

func (p Phase) String() string {
	switch p {
	case PhaseUnmatched:
		return "unmatched"
	case PhaseAwaitingRequestContinue:
		return "awaiting-request-continue"
	case PhaseRequestResumed:
		return "request-resumed"
	case PhaseAwaitingResponseContinue:
		return "awaiting-response-continue"
	case PhaseCompleted:
		return "completed"
	case PhaseStaticResponded:
		return "static-responded"
	default:
		return "unknown"
	}
}

// Exchange is one proxied request as seen by the interception engine. ID
// is assigned when a handler route matches and is read back by the proxy
// for the response phase.
type Exchange struct {
	Request   *http.Request
	WebSocket bool
	ID        string
}

// BackendRequest tracks an exchange that matched a handler route.
type BackendRequest struct {
	ID        string
	Route     *route.Route
	Request   *http.Request
	WebSocket bool
	Body      []byte
	Client    ClientResponse

	Response     *http.Response
	ResponseBody []byte

	continueRequest      *Resumer
	continueResponse     *Resumer
	sendResponseToDriver bool
	phase                Phase
}

func (b *BackendRequest) Phase() Phase {
	return b.phase
}

// State is the route registry and the table of tracked requests. It is
// reset as a unit.
type State struct {
	Routes   *route.Registry
	requests map[string]*BackendRequest
}

func NewState() *State {
	return &State{
		Routes:   route.NewRegistry(),
		requests: make(map[string]*BackendRequest),
	}
}

func (s *State) Request(id string) (*BackendRequest, bool) {
	br, ok := s.requests[id]
	return br, ok
}

func (s *State) Pending() int {
	return len(s.requests)
}

// ClearAll drops every route and every tracked request.
func (s *State) ClearAll() {
	s.Routes.Clear()
	s.requests = make(map[string]*BackendRequest)
}
