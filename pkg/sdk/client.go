// Package sdk is a Go driver for a netstub proxy. It registers routes over
// the driver websocket and answers the exchanges they intercept.
//
//	client, err := sdk.Dial(ctx, "ws://127.0.0.1:8081/driver", "json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Stub(ctx, sdk.Route().URL(sdk.Glob("/api/health")).Build(),
//	    api.StaticResponse{StatusCode: 204})
//
//	_, err = client.Intercept(ctx, sdk.Route().Method(sdk.Glob("POST")).Build(),
//	    func(ctx context.Context, req *sdk.InterceptedRequest) {
//	        req.Req.Headers["x-test-run"] = "42"
//	        _ = req.Continue(ctx)
//	    })
package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/net/websocket"

	"github.com/netstub/netstub/internal/errx"
	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/driver"
)

const defaultOrigin = "http://localhost/"

// Client is a driver connection. All methods are safe for concurrent use.
// Handlers run on their own goroutines.
type Client struct {
	conn   *websocket.Conn
	frames websocket.Codec
	logger *slog.Logger

	nextHandler atomic.Uint64

	mu               sync.Mutex
	handlers         map[string]RequestHandler
	responseHandlers map[string]ResponseHandler
	err              error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

// Dial connects to the driver endpoint at url using the named codec.
func Dial(ctx context.Context, url, codec string) (*Client, error) {
	c, err := driver.NewCodec(codec)
	if err != nil {
		return nil, err
	}
	cfg, err := websocket.NewConfig(url, defaultOrigin)
	if err != nil {
		return nil, errx.Wrap(ErrDial, err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, errx.Wrap(ErrDial, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:             conn,
		frames:           driver.FrameCodec(c),
		logger:           slog.Default().With("component", "sdk"),
		handlers:         make(map[string]RequestHandler),
		responseHandlers: make(map[string]ResponseHandler),
		ctx:              cctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}
	go client.readLoop()
	return client, nil
}

// Intercept registers a route whose matches are passed to h. It returns
// the handler id carried by the route.
func (c *Client) Intercept(ctx context.Context, m api.RouteMatcher, h RequestHandler) (string, error) {
	id := fmt.Sprintf("handler-%d", c.nextHandler.Add(1))

	c.mu.Lock()
	c.handlers[id] = h
	c.mu.Unlock()

	if err := c.send(ctx, &api.RouteAddedFrame{HandlerID: id, RouteMatcher: m}); err != nil {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
		return "", err
	}
	return id, nil
}

// Stub registers a route answered with sr by the proxy itself.
func (c *Client) Stub(ctx context.Context, m api.RouteMatcher, sr api.StaticResponse) error {
	return c.send(ctx, &api.RouteAddedFrame{RouteMatcher: m, StaticResponse: &sr})
}

// ClearRoutes drops every route on the proxy and every local handler.
func (c *Client) ClearRoutes(ctx context.Context) error {
	c.mu.Lock()
	c.handlers = make(map[string]RequestHandler)
	c.responseHandlers = make(map[string]ResponseHandler)
	c.mu.Unlock()
	return c.send(ctx, &api.ClearRoutesFrame{})
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, or nil after Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) send(ctx context.Context, frame api.Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.frames.Send(c.conn, frame); err != nil {
		return errx.Wrap(ErrSend, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.cancel()

	for {
		var frame api.Frame
		if err := c.frames.Receive(c.conn, &frame); err != nil {
			if errors.Is(err, api.ErrMalformed) || errors.Is(err, api.ErrUnknownEvent) {
				c.logger.Warn("dropping proxy frame", "error", err)
				continue
			}
			if !c.closed.Load() {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}

		switch f := frame.(type) {
		case *api.RequestReceivedFrame:
			c.handleRequest(f)
		case *api.ResponseReceivedFrame:
			c.handleResponse(f)
		default:
			c.logger.Debug("ignoring proxy frame", "event", frame.Event())
		}
	}
}

func (c *Client) handleRequest(f *api.RequestReceivedFrame) {
	c.mu.Lock()
	h := c.handlers[f.RouteHandlerID]
	c.mu.Unlock()

	ir := &InterceptedRequest{
		RequestID: f.RequestID,
		HandlerID: f.RouteHandlerID,
		Req:       f.Req,
		client:    c,
	}
	go func() {
		if h != nil {
			h(c.ctx, ir)
		}
		if ir.replied.Load() {
			return
		}
		if err := ir.reply(c.ctx, &api.RequestContinueFrame{}); err != nil && !errors.Is(err, ErrAlreadyReplied) {
			c.logger.Warn("continue request failed", "request_id", f.RequestID, "error", err)
		}
	}()
}

func (c *Client) handleResponse(f *api.ResponseReceivedFrame) {
	h := c.takeResponseHandler(f.RequestID)

	ir := &InterceptedResponse{
		RequestID: f.RequestID,
		HandlerID: f.RouteHandlerID,
		Res:       f.Res,
		client:    c,
	}
	go func() {
		if h != nil {
			h(c.ctx, ir)
		}
		if ir.replied.Load() {
			return
		}
		if err := ir.reply(c.ctx, &api.ResponseContinueFrame{}); err != nil && !errors.Is(err, ErrAlreadyReplied) {
			c.logger.Warn("continue response failed", "request_id", f.RequestID, "error", err)
		}
	}()
}

func (c *Client) setResponseHandler(requestID string, h ResponseHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseHandlers[requestID] = h
}

func (c *Client) takeResponseHandler(requestID string) ResponseHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.responseHandlers[requestID]
	delete(c.responseHandlers, requestID)
	return h
}
