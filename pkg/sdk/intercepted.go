package sdk

import (
	"context"
	"sync/atomic"

	"github.com/netstub/netstub/pkg/api"
)

// RequestHandler handles a request matched by an Intercept route. A handler
// that returns without replying continues the request unchanged.
type RequestHandler func(ctx context.Context, req *InterceptedRequest)

// ResponseHandler handles the upstream response of a request continued
// with ContinueWithResponseHandler.
type ResponseHandler func(ctx context.Context, res *InterceptedResponse)

// InterceptedRequest is a request parked in the proxy. Edits to Req are
// sent back with Continue and TryNextRoute.
type InterceptedRequest struct {
	RequestID string
	HandlerID string
	Req       api.SerializableRequest

	client  *Client
	replied atomic.Bool
}

func (r *InterceptedRequest) reply(ctx context.Context, frame *api.RequestContinueFrame) error {
	if !r.replied.CompareAndSwap(false, true) {
		return ErrAlreadyReplied
	}
	frame.RequestID = r.RequestID
	frame.RouteHandlerID = r.HandlerID
	return r.client.send(ctx, frame)
}

// Continue sends the request upstream with the current Req.
func (r *InterceptedRequest) Continue(ctx context.Context) error {
	req := r.Req
	return r.reply(ctx, &api.RequestContinueFrame{Req: &req})
}

// ContinueWithResponseHandler sends the request upstream and routes its
// response to h.
func (r *InterceptedRequest) ContinueWithResponseHandler(ctx context.Context, h ResponseHandler) error {
	if r.replied.Load() {
		return ErrAlreadyReplied
	}
	r.client.setResponseHandler(r.RequestID, h)
	req := r.Req
	err := r.reply(ctx, &api.RequestContinueFrame{Req: &req, HasResponseHandler: true})
	if err != nil {
		r.client.takeResponseHandler(r.RequestID)
	}
	return err
}

// Respond answers the request without contacting upstream.
func (r *InterceptedRequest) Respond(ctx context.Context, sr api.StaticResponse) error {
	return r.reply(ctx, &api.RequestContinueFrame{StaticResponse: &sr})
}

// TryNextRoute hands the request to the next matching route, or upstream
// when none is left.
func (r *InterceptedRequest) TryNextRoute(ctx context.Context) error {
	req := r.Req
	return r.reply(ctx, &api.RequestContinueFrame{Req: &req, TryNextRoute: true})
}

// InterceptedResponse is an upstream response parked in the proxy. Status
// and header edits to Res are applied by Continue; body edits are not.
type InterceptedResponse struct {
	RequestID string
	HandlerID string
	Res       api.SerializableResponse

	client  *Client
	replied atomic.Bool
}

func (r *InterceptedResponse) reply(ctx context.Context, frame *api.ResponseContinueFrame) error {
	if !r.replied.CompareAndSwap(false, true) {
		return ErrAlreadyReplied
	}
	frame.RequestID = r.RequestID
	return r.client.send(ctx, frame)
}

func (r *InterceptedResponse) Continue(ctx context.Context) error {
	res := r.Res
	return r.reply(ctx, &api.ResponseContinueFrame{Res: &res})
}

// Respond replaces the upstream response.
func (r *InterceptedResponse) Respond(ctx context.Context, sr api.StaticResponse) error {
	return r.reply(ctx, &api.ResponseContinueFrame{StaticResponse: &sr})
}
