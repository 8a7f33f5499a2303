package intercept

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/logging"
	"github.com/netstub/netstub/pkg/matcher"
	"github.com/netstub/netstub/pkg/metrics"
	"github.com/netstub/netstub/pkg/route"
)

// Driver receives outbound protocol frames.
type Driver interface {
	Send(ctx context.Context, frame api.Frame) error
}

// Manager runs the interception lifecycle for every proxied exchange. All
// entry points are serialized by one mutex; body buffering, driver sends
// and continuations run outside it.
type Manager struct {
	mu      sync.Mutex
	state   *State
	driver  Driver
	logger  *slog.Logger
	emitter *logging.Emitter // nil means no event logging
	metrics *metrics.Collector
	newID   func() string
}

func NewManager(state *State, logger *slog.Logger, emitter *logging.Emitter, collector *metrics.Collector) *Manager {
	if state == nil {
		state = NewState()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		state:   state,
		logger:  logger.With("component", "intercept"),
		emitter: emitter,
		metrics: collector,
		newID:   uuid.NewString,
	}
}

// SetDriver installs the driver that receives outbound frames.
func (m *Manager) SetDriver(d Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driver = d
}

// Pending returns the number of tracked requests.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Pending()
}

// Routes returns the number of registered routes.
func (m *Manager) Routes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Routes.Len()
}

func (m *Manager) AddRoute(rt *route.Route) {
	m.mu.Lock()
	m.state.Routes.Add(rt)
	n := m.state.Routes.Len()
	m.mu.Unlock()

	m.metrics.SetRoutes(n)
	m.logger.Debug("route added", "handler_id", rt.HandlerID, "static", rt.IsStatic(), "position", n-1)
	_ = m.emitter.Emit(logging.EventRouteAdded, fmt.Sprintf("route %d added", n-1), "", nil, &logging.RouteData{
		HandlerID: rt.HandlerID,
		Static:    rt.IsStatic(),
		Position:  n - 1,
	})
}

// ClearAll drops every route and every tracked request. Exchanges still
// parked on a dropped request stay parked.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	routes, requests := m.state.Routes.Len(), m.state.Pending()
	m.state.ClearAll()
	m.mu.Unlock()

	m.metrics.SetRoutes(0)
	m.metrics.SetPending(0)
	m.metrics.RecordClear()
	m.logger.Info("routes cleared", "routes", routes, "requests", requests)
	_ = m.emitter.Emit(logging.EventRoutesCleared, "routes cleared", "", nil, &logging.ClearData{
		Routes:   routes,
		Requests: requests,
	})
}

// OnProxiedRequest decides what happens to a request arriving at the
// proxy. resume continues the request to upstream; it is not called when
// a static response is written.
func (m *Manager) OnProxiedRequest(ctx context.Context, ex *Exchange, res ClientResponse, resume func()) {
	matchable := matcher.NewMatchable(ex.Request, ex.WebSocket)

	m.mu.Lock()
	rt := m.state.Routes.FindFirstMatch(matchable)
	if rt == nil {
		m.mu.Unlock()
		m.metrics.RecordRequest(metrics.OutcomePassthrough)
		m.logger.Debug("no route matched", "method", matchable.Method, "url", matchable.URL)
		_ = m.emitter.Emit(logging.EventRequestPassthrough, matchable.Method+" "+matchable.URL, "", nil, &logging.RequestData{
			Method: matchable.Method,
			URL:    matchable.URL,
		})
		resume()
		return
	}
	if rt.IsStatic() {
		m.mu.Unlock()
		m.respondStatic(res, rt.StaticResponse, matchable.URL, "", "request")
		return
	}

	br := &BackendRequest{
		ID:              m.newID(),
		Route:           rt,
		Request:         ex.Request,
		WebSocket:       ex.WebSocket,
		Client:          res,
		continueRequest: NewResumer("request", resume),
		phase:           PhaseAwaitingRequestContinue,
	}
	m.state.requests[br.ID] = br
	pending := m.state.Pending()
	m.mu.Unlock()

	ex.ID = br.ID
	m.metrics.SetPending(pending)

	body, err := bufferRequestBody(ex.Request)
	if err != nil {
		m.logger.Warn("dropping request with unreadable body", "request_id", br.ID, "error", err)
		m.mu.Lock()
		br.phase = PhaseCompleted
		m.mu.Unlock()
		m.metrics.RecordRequest(metrics.OutcomeDestroyed)
		res.Destroy()
		return
	}

	m.mu.Lock()
	if cur, ok := m.state.requests[br.ID]; !ok || cur != br {
		m.mu.Unlock()
		m.logger.Debug("request cleared before interception", "request_id", br.ID)
		m.release(br, PhaseAwaitingRequestContinue)
		return
	}
	br.Body = body
	frame := &api.RequestReceivedFrame{
		RouteHandlerID: rt.HandlerID,
		RequestID:      br.ID,
		Req:            snapshotRequest(ex.Request, body),
	}
	m.mu.Unlock()

	m.metrics.RecordRequest(metrics.OutcomeIntercepted)
	m.logger.Debug("request intercepted", "request_id", br.ID, "handler_id", rt.HandlerID, "url", frame.Req.URL)
	_ = m.emitter.Emit(logging.EventRequestIntercepted, frame.Req.Method+" "+frame.Req.URL, br.ID, nil, &logging.RequestData{
		Method:    frame.Req.Method,
		URL:       frame.Req.URL,
		HandlerID: rt.HandlerID,
		BodyBytes: len(body),
	})
	m.sendToDriver(ctx, br, frame, PhaseAwaitingRequestContinue)
}

// OnRequestContinue applies the driver's reply to an intercepted request.
// Replies for unknown requests, or for requests not awaiting one, are
// ignored.
func (m *Manager) OnRequestContinue(ctx context.Context, f *api.RequestContinueFrame) {
	m.mu.Lock()
	br, ok := m.state.requests[f.RequestID]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("request continue for unknown request", "request_id", f.RequestID)
		return
	}
	if br.phase != PhaseAwaitingRequestContinue {
		m.mu.Unlock()
		m.logger.Debug("ignoring request continue", "request_id", f.RequestID, "phase", br.phase.String())
		return
	}

	if f.Req != nil {
		br.Body = applyRequestSnapshot(br.Request, br.Body, f.Req)
	}
	url := matcher.RequestURL(br.Request).String()

	if f.TryNextRoute {
		prev := m.state.Routes.FindByHandlerID(f.RouteHandlerID)
		if prev == nil {
			prev = br.Route
		}
		next := m.state.Routes.FindFirstMatchAfter(matcher.NewMatchable(br.Request, br.WebSocket), prev)
		switch {
		case next == nil:
			br.phase = PhaseRequestResumed
			resume := br.continueRequest
			m.mu.Unlock()
			m.logger.Debug("no further route, resuming request", "request_id", br.ID)
			m.emitResumed(br.ID, br.Request.Method, url)
			resume.Resume()
		case next.IsStatic():
			br.phase = PhaseStaticResponded
			m.mu.Unlock()
			m.respondStatic(br.Client, next.StaticResponse, url, br.ID, "request")
		default:
			br.Route = next
			frame := &api.RequestReceivedFrame{
				RouteHandlerID: next.HandlerID,
				RequestID:      br.ID,
				Req:            snapshotRequest(br.Request, br.Body),
			}
			m.mu.Unlock()
			m.logger.Debug("request chained to next route", "request_id", br.ID, "handler_id", next.HandlerID)
			_ = m.emitter.Emit(logging.EventRequestIntercepted, frame.Req.Method+" "+url, br.ID, []string{"chained"}, &logging.RequestData{
				Method:    frame.Req.Method,
				URL:       url,
				HandlerID: next.HandlerID,
				BodyBytes: len(br.Body),
				Chained:   true,
			})
			m.sendToDriver(ctx, br, frame, PhaseAwaitingRequestContinue)
		}
		return
	}

	if f.StaticResponse != nil {
		br.phase = PhaseStaticResponded
		m.mu.Unlock()
		m.respondStatic(br.Client, f.StaticResponse, url, br.ID, "request")
		return
	}

	br.sendResponseToDriver = f.HasResponseHandler
	br.phase = PhaseRequestResumed
	resume := br.continueRequest
	m.mu.Unlock()

	m.logger.Debug("resuming request", "request_id", br.ID, "response_handler", f.HasResponseHandler)
	m.emitResumed(br.ID, br.Request.Method, url)
	resume.Resume()
}

// OnProxiedResponse decides what happens to an upstream response. resume
// writes upstream to the client; it is not called when a static response
// replaces it.
func (m *Manager) OnProxiedResponse(ctx context.Context, ex *Exchange, upstream *http.Response, resume func()) {
	if ex.ID == "" {
		resume()
		return
	}

	m.mu.Lock()
	br, ok := m.state.requests[ex.ID]
	if !ok || br.phase != PhaseRequestResumed {
		m.mu.Unlock()
		resume()
		return
	}
	br.Response = upstream
	if !br.sendResponseToDriver {
		br.phase = PhaseCompleted
		m.mu.Unlock()
		m.metrics.RecordResponse(metrics.OutcomePassthrough)
		resume()
		return
	}
	br.sendResponseToDriver = false
	br.continueResponse = NewResumer("response", resume)
	br.phase = PhaseAwaitingResponseContinue
	m.mu.Unlock()

	body, err := bufferResponseBody(upstream)
	if err != nil {
		m.logger.Warn("dropping response with unreadable body", "request_id", br.ID, "error", err)
		m.mu.Lock()
		br.phase = PhaseCompleted
		m.mu.Unlock()
		m.metrics.RecordResponse(metrics.OutcomeDestroyed)
		br.Client.Destroy()
		return
	}

	m.mu.Lock()
	if cur, ok := m.state.requests[br.ID]; !ok || cur != br {
		m.mu.Unlock()
		m.logger.Debug("request cleared before response interception", "request_id", br.ID)
		m.release(br, PhaseAwaitingResponseContinue)
		return
	}
	br.ResponseBody = body
	url := matcher.RequestURL(br.Request).String()
	frame := &api.ResponseReceivedFrame{
		RouteHandlerID: br.Route.HandlerID,
		RequestID:      br.ID,
		Res:            snapshotResponse(url, upstream, body),
	}
	m.mu.Unlock()

	m.metrics.RecordResponse(metrics.OutcomeIntercepted)
	m.logger.Debug("response intercepted", "request_id", br.ID, "status", upstream.StatusCode)
	_ = m.emitter.Emit(logging.EventResponseIntercepted, fmt.Sprintf("%s -> %d", url, upstream.StatusCode), br.ID, nil, &logging.ResponseData{
		URL:        url,
		StatusCode: upstream.StatusCode,
		BodyBytes:  len(body),
		HandlerID:  br.Route.HandlerID,
	})
	m.sendToDriver(ctx, br, frame, PhaseAwaitingResponseContinue)
}

// OnResponseContinue applies the driver's reply to an intercepted
// response.
func (m *Manager) OnResponseContinue(ctx context.Context, f *api.ResponseContinueFrame) {
	m.mu.Lock()
	br, ok := m.state.requests[f.RequestID]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("response continue for unknown request", "request_id", f.RequestID)
		return
	}
	if br.phase != PhaseAwaitingResponseContinue {
		m.mu.Unlock()
		m.logger.Debug("ignoring response continue", "request_id", f.RequestID, "phase", br.phase.String())
		return
	}
	url := matcher.RequestURL(br.Request).String()

	if f.StaticResponse != nil {
		br.phase = PhaseStaticResponded
		m.mu.Unlock()
		m.respondStatic(br.Client, f.StaticResponse, url, br.ID, "response")
		return
	}

	bodyChanged := false
	if f.Res != nil {
		bodyChanged = applyResponseSnapshot(br.Response, br.ResponseBody, f.Res)
	}
	br.phase = PhaseCompleted
	resume := br.continueResponse
	status := br.Response.StatusCode
	m.mu.Unlock()

	if bodyChanged {
		m.logger.Warn("response body rewrite is not supported, sending upstream body", "request_id", br.ID)
	}
	m.logger.Debug("resuming response", "request_id", br.ID, "status", status)
	_ = m.emitter.Emit(logging.EventResponseResumed, fmt.Sprintf("%s -> %d", url, status), br.ID, nil, &logging.ResponseData{
		URL:        url,
		StatusCode: status,
		BodyBytes:  len(br.ResponseBody),
		HandlerID:  br.Route.HandlerID,
	})
	resume.Resume()
}

// sendToDriver emits frame and falls back to passing the exchange through
// when no driver can take it.
func (m *Manager) sendToDriver(ctx context.Context, br *BackendRequest, frame api.Frame, waiting Phase) {
	m.mu.Lock()
	d := m.driver
	m.mu.Unlock()

	err := ErrNoDriver
	if d != nil {
		err = d.Send(ctx, frame)
	}
	if err == nil {
		return
	}

	m.logger.Warn("driver send failed, passing exchange through", "request_id", br.ID, "event", frame.Event(), "error", err)
	if waiting == PhaseAwaitingResponseContinue {
		m.metrics.RecordResponse(metrics.OutcomeDriverError)
	} else {
		m.metrics.RecordRequest(metrics.OutcomeDriverError)
	}
	m.release(br, waiting)
}

// release resumes br natively if it is still parked in phase waiting.
func (m *Manager) release(br *BackendRequest, waiting Phase) {
	m.mu.Lock()
	if br.phase != waiting {
		m.mu.Unlock()
		return
	}
	var resume *Resumer
	switch waiting {
	case PhaseAwaitingRequestContinue:
		br.phase = PhaseRequestResumed
		resume = br.continueRequest
	case PhaseAwaitingResponseContinue:
		br.phase = PhaseCompleted
		resume = br.continueResponse
	}
	m.mu.Unlock()

	if resume != nil {
		resume.Resume()
	}
}

func (m *Manager) respondStatic(res ClientResponse, sr *api.StaticResponse, url, requestID, phase string) {
	outcome := metrics.OutcomeStatic
	if sr.DestroySocket {
		outcome = metrics.OutcomeDestroyed
	}
	if err := ApplyStaticResponse(res, sr); err != nil {
		m.logger.Warn("static response failed", "request_id", requestID, "url", url, "error", err)
	}
	if phase == "response" {
		m.metrics.RecordResponse(outcome)
	} else {
		m.metrics.RecordRequest(outcome)
	}

	status := sr.StatusCode
	if status == 0 && !sr.DestroySocket {
		status = http.StatusOK
	}
	m.logger.Debug("static response", "request_id", requestID, "url", url, "status", status, "destroy_socket", sr.DestroySocket)
	_ = m.emitter.Emit(logging.EventStaticResponse, fmt.Sprintf("%s -> %d", url, status), requestID, []string{phase}, &logging.StaticResponseData{
		URL:           url,
		StatusCode:    status,
		DestroySocket: sr.DestroySocket,
		Phase:         phase,
	})
}

func (m *Manager) emitResumed(requestID, method, url string) {
	_ = m.emitter.Emit(logging.EventRequestResumed, method+" "+url, requestID, nil, &logging.RequestData{
		Method: method,
		URL:    url,
	})
}
