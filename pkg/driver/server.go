package driver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/netstub/netstub/internal/errx"
	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/metrics"
)

// Server accepts the driver's websocket connection. One driver is active at
// a time; a new connection replaces the previous one. Frames from the
// active driver are dispatched one at a time in arrival order.
type Server struct {
	codec      Codec
	frames     websocket.Codec
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Collector

	mu        sync.Mutex
	conn      *websocket.Conn
	connected chan struct{}
}

func NewServer(codec Codec, dispatcher *Dispatcher, logger *slog.Logger, collector *metrics.Collector) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		codec:      codec,
		frames:     FrameCodec(codec),
		dispatcher: dispatcher,
		logger:     logger.With("component", "driver"),
		metrics:    collector,
		connected:  make(chan struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and serves it as the
// active driver connection. Any origin is accepted.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Server{Handler: s.serveConn}.ServeHTTP(w, r)
}

func (s *Server) serveConn(conn *websocket.Conn) {
	s.mu.Lock()
	prev := s.conn
	s.conn = conn
	if prev == nil {
		close(s.connected)
	}
	s.mu.Unlock()

	if prev != nil {
		s.logger.Info("replacing driver connection", "remote", conn.Request().RemoteAddr)
		_ = prev.Close()
	} else {
		s.logger.Info("driver connected", "remote", conn.Request().RemoteAddr, "codec", s.codec.Name())
	}

	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.connected = make(chan struct{})
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	ctx := conn.Request().Context()
	for {
		var frame api.Frame
		if err := s.frames.Receive(conn, &frame); err != nil {
			if errors.Is(err, api.ErrMalformed) || errors.Is(err, api.ErrUnknownEvent) {
				s.logger.Warn("dropping driver frame", "error", err)
				continue
			}
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("driver connection closed", "error", err)
			} else {
				s.logger.Info("driver disconnected")
			}
			return
		}
		if err := s.dispatcher.Dispatch(ctx, frame); err != nil {
			s.logger.Warn("driver frame rejected", "event", frame.Event(), "error", err)
		}
	}
}

// Send writes frame to the active driver.
func (s *Server) Send(ctx context.Context, frame api.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNoDriver
	}
	if err := s.frames.Send(conn, frame); err != nil {
		return errx.Wrap(ErrSend, err)
	}
	s.metrics.RecordDriverEvent(metrics.DirectionOutbound, frame.Event())
	return nil
}

func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// WaitConnected blocks until a driver is connected or ctx is done.
func (s *Server) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	ch := s.connected
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops the active driver connection, if any.
func (s *Server) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
