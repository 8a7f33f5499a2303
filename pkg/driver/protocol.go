package driver

import (
	"context"
	"log/slog"

	"github.com/netstub/netstub/internal/errx"
	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/matcher"
	"github.com/netstub/netstub/pkg/metrics"
	"github.com/netstub/netstub/pkg/route"
)

// DecodeFrame builds the frame for event, filling it through unmarshal.
// Websocket-named events decode to a payload-free WebSocketFrame.
func DecodeFrame(event string, unmarshal func(v any) error) (api.Frame, error) {
	var frame api.Frame
	switch event {
	case api.EventRouteAdded:
		frame = &api.RouteAddedFrame{}
	case api.EventClearRoutes:
		frame = &api.ClearRoutesFrame{}
	case api.EventRequestContinue:
		frame = &api.RequestContinueFrame{}
	case api.EventResponseContinue:
		frame = &api.ResponseContinueFrame{}
	case api.EventRequestReceived:
		frame = &api.RequestReceivedFrame{}
	case api.EventResponseReceived:
		frame = &api.ResponseReceivedFrame{}
	default:
		if api.IsWebSocketEvent(event) {
			return &api.WebSocketFrame{Name: event}, nil
		}
		return nil, errx.With(api.ErrUnknownEvent, " %q", event)
	}
	if err := unmarshal(frame); err != nil {
		return nil, errx.With(api.ErrMalformed, " %s: %v", event, err)
	}
	return frame, nil
}

// Handler is the engine side of the driver protocol.
type Handler interface {
	AddRoute(rt *route.Route)
	ClearAll()
	OnRequestContinue(ctx context.Context, f *api.RequestContinueFrame)
	OnResponseContinue(ctx context.Context, f *api.ResponseContinueFrame)
}

// Dispatcher routes inbound frames to a Handler.
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Collector
}

func NewDispatcher(handler Handler, logger *slog.Logger, collector *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handler: handler,
		logger:  logger.With("component", "driver"),
		metrics: collector,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, frame api.Frame) error {
	switch f := frame.(type) {
	case *api.RouteAddedFrame:
		m, err := matcher.FromWire(f.RouteMatcher)
		if err != nil {
			return errx.Wrap(ErrInvalidRoute, err)
		}
		d.handler.AddRoute(&route.Route{
			Matcher:        m,
			HandlerID:      f.HandlerID,
			StaticResponse: f.StaticResponse,
		})
	case *api.ClearRoutesFrame:
		d.handler.ClearAll()
	case *api.RequestContinueFrame:
		d.handler.OnRequestContinue(ctx, f)
	case *api.ResponseContinueFrame:
		d.handler.OnResponseContinue(ctx, f)
	case *api.WebSocketFrame:
		d.logger.Debug("ignoring websocket event", "event", f.Name)
	case *api.RequestReceivedFrame, *api.ResponseReceivedFrame:
		return errx.With(ErrUnexpectedFrame, ": %s is outbound only", frame.Event())
	default:
		return errx.With(api.ErrUnknownEvent, ": %T", frame)
	}
	d.metrics.RecordDriverEvent(metrics.DirectionInbound, frame.Event())
	return nil
}
