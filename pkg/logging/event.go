package logging

import (
	"encoding/json"
	"time"
)

// Event is one structured interception event, written one per line by
// JSONLWriter. RequestID is set for events tied to a single exchange.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	RunID     string          `json:"run_id"`
	Service   string          `json:"service"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	RequestID string          `json:"request_id,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	EventRouteAdded          = "route_added"
	EventRoutesCleared       = "routes_cleared"
	EventRequestPassthrough  = "request_passthrough"
	EventRequestIntercepted  = "request_intercepted"
	EventStaticResponse      = "static_response"
	EventRequestResumed      = "request_resumed"
	EventResponseIntercepted = "response_intercepted"
	EventResponseResumed     = "response_resumed"
)

// RouteData is the payload for route_added events.
type RouteData struct {
	HandlerID string `json:"handler_id,omitempty"`
	Static    bool   `json:"static"`
	Position  int    `json:"position"`
}

// ClearData is the payload for routes_cleared events.
type ClearData struct {
	Routes   int `json:"routes"`
	Requests int `json:"requests"`
}

// RequestData is the payload for request-phase events.
type RequestData struct {
	Method    string `json:"method"`
	URL       string `json:"url"`
	HandlerID string `json:"handler_id,omitempty"`
	BodyBytes int    `json:"body_bytes,omitempty"`
	// Chained is set when the route was reached via tryNextRoute.
	Chained bool `json:"chained,omitempty"`
}

// StaticResponseData is the payload for static_response events.
type StaticResponseData struct {
	URL           string `json:"url"`
	StatusCode    int    `json:"status_code,omitempty"`
	DestroySocket bool   `json:"destroy_socket,omitempty"`
	Phase         string `json:"phase"` // "request" or "response"
}

// ResponseData is the payload for response-phase events.
type ResponseData struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	BodyBytes  int    `json:"body_bytes"`
	HandlerID  string `json:"handler_id,omitempty"`
}
