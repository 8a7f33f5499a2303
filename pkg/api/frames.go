package api

import "strings"

// Driver event names.
const (
	EventRouteAdded       = "route:added"
	EventClearRoutes      = "clear:routes"
	EventRequestContinue  = "http:request:continue"
	EventResponseContinue = "http:response:continue"
	EventRequestReceived  = "http:request:received"
	EventResponseReceived = "http:response:received"

	// EventWebSocketPrefix marks websocket-named events, which are accepted
	// and ignored.
	EventWebSocketPrefix = "ws:"
)

// Frame is one decoded driver event. The set of implementations is closed.
type Frame interface {
	Event() string
	isFrame()
}

// RouteAddedFrame registers a route. A non-nil StaticResponse makes the
// route static; otherwise HandlerID names the driver-side handler.
type RouteAddedFrame struct {
	HandlerID      string          `json:"handlerId,omitempty"`
	RouteMatcher   RouteMatcher    `json:"routeMatcher"`
	StaticResponse *StaticResponse `json:"staticResponse,omitempty"`
}

// ClearRoutesFrame drops every route and every tracked request.
type ClearRoutesFrame struct{}

// RequestContinueFrame is the driver's reply to an intercepted request.
type RequestContinueFrame struct {
	RequestID          string               `json:"requestId"`
	RouteHandlerID     string               `json:"routeHandlerId,omitempty"`
	Req                *SerializableRequest `json:"req,omitempty"`
	TryNextRoute       bool                 `json:"tryNextRoute,omitempty"`
	StaticResponse     *StaticResponse      `json:"staticResponse,omitempty"`
	HasResponseHandler bool                 `json:"hasResponseHandler,omitempty"`
}

// ResponseContinueFrame is the driver's reply to an intercepted response.
type ResponseContinueFrame struct {
	RequestID      string                `json:"requestId"`
	Res            *SerializableResponse `json:"res,omitempty"`
	StaticResponse *StaticResponse       `json:"staticResponse,omitempty"`
}

// WebSocketFrame is any ws:* event. It carries no payload.
type WebSocketFrame struct {
	Name string `json:"-"`
}

// RequestReceivedFrame is sent to the driver when a handler route matches.
type RequestReceivedFrame struct {
	RouteHandlerID string              `json:"routeHandlerId"`
	RequestID      string              `json:"requestId"`
	Req            SerializableRequest `json:"req"`
}

// ResponseReceivedFrame is sent to the driver when it asked to see the
// response of an intercepted request.
type ResponseReceivedFrame struct {
	RouteHandlerID string               `json:"routeHandlerId"`
	RequestID      string               `json:"requestId"`
	Res            SerializableResponse `json:"res"`
}

func (*RouteAddedFrame) Event() string       { return EventRouteAdded }
func (*ClearRoutesFrame) Event() string      { return EventClearRoutes }
func (*RequestContinueFrame) Event() string  { return EventRequestContinue }
func (*ResponseContinueFrame) Event() string { return EventResponseContinue }
func (*RequestReceivedFrame) Event() string  { return EventRequestReceived }
func (*ResponseReceivedFrame) Event() string { return EventResponseReceived }

func (f *WebSocketFrame) Event() string {
	if f.Name == "" {
		return EventWebSocketPrefix
	}
	return f.Name
}

func (*RouteAddedFrame) isFrame()       {}
func (*ClearRoutesFrame) isFrame()      {}
func (*RequestContinueFrame) isFrame()  {}
func (*ResponseContinueFrame) isFrame() {}
func (*WebSocketFrame) isFrame()        {}
func (*RequestReceivedFrame) isFrame()  {}
func (*ResponseReceivedFrame) isFrame() {}

// IsWebSocketEvent reports whether name is a websocket-named event.
func IsWebSocketEvent(name string) bool {
	return strings.HasPrefix(name, EventWebSocketPrefix)
}
