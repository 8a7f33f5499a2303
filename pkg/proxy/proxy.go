// Package proxy is the man-in-the-middle HTTP(S) forward proxy that feeds
// proxied exchanges to an Interceptor.
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/netstub/netstub/internal/errx"
	"github.com/netstub/netstub/pkg/intercept"
)

const defaultDialTimeout = 30 * time.Second

// Interceptor decides the fate of each proxied exchange. resume continues
// the default pipeline; a response written to res replaces it.
type Interceptor interface {
	OnProxiedRequest(ctx context.Context, ex *intercept.Exchange, res intercept.ClientResponse, resume func())
	OnProxiedResponse(ctx context.Context, ex *intercept.Exchange, upstream *http.Response, resume func())
}

type Config struct {
	// UpstreamTLS is used for upstream HTTPS. Nil verifies against the
	// system roots.
	UpstreamTLS *tls.Config
	DialTimeout time.Duration
}

type Proxy struct {
	interceptor Interceptor
	caPool      *CAPool
	transport   *http.Transport
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
}

func New(interceptor Interceptor, caPool *CAPool, logger *slog.Logger, cfg Config) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	tlsConfig := &tls.Config{}
	if cfg.UpstreamTLS != nil {
		tlsConfig = cfg.UpstreamTLS.Clone()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Proxy{
		interceptor: interceptor,
		caPool:      caPool,
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   cfg.DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:     tlsConfig,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableCompression:  true,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
		logger:    logger.With("component", "proxy"),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

func (p *Proxy) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errx.Wrap(ErrListen, err)
	}
	return p.Serve(ln)
}

// Serve accepts client connections on ln until Close. It returns
// ErrProxyClosed after Close.
func (p *Proxy) Serve(ln net.Listener) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = ln.Close()
		return ErrProxyClosed
	}
	p.listeners[ln] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.listeners, ln)
		p.mu.Unlock()
	}()

	p.logger.Info("proxy listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if p.ctx.Err() != nil {
				return ErrProxyClosed
			}
			return errx.Wrap(ErrListen, err)
		}
		if !p.track(conn) {
			_ = conn.Close()
			return ErrProxyClosed
		}
		go func() {
			defer p.wg.Done()
			defer p.untrack(conn)
			p.handleConn(conn)
		}()
	}
}

func (p *Proxy) track(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.conns[conn] = struct{}{}
	p.wg.Add(1)
	return true
}

func (p *Proxy) untrack(conn net.Conn) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
}

// Close stops every listener, drops client connections and releases
// exchanges parked on the interceptor.
func (p *Proxy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cancel()
	for ln := range p.listeners {
		_ = ln.Close()
	}
	for conn := range p.conns {
		_ = conn.Close()
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.transport.CloseIdleConnections()
	return nil
}

func (p *Proxy) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}

		if req.Method == http.MethodConnect {
			p.handleConnect(conn, reader, req.Host)
			return
		}
		if !req.URL.IsAbs() {
			writeHTTPError(conn, http.StatusBadRequest, "Absolute-form request URI required")
			return
		}
		if !p.serveRequest(conn, reader, req) {
			return
		}
	}
}

// handleConnect terminates TLS for a CONNECT tunnel and serves the
// requests inside it.
func (p *Proxy) handleConnect(conn net.Conn, reader *bufio.Reader, target string) {
	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}

	host := target
	if h, _, err := net.SplitHostPort(target); err == nil {
		host = h
	}

	tlsConn := tls.Server(&bufferedConn{Conn: conn, r: reader}, &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = host
			}
			return p.caPool.GetCertificate(name)
		},
		NextProtos: []string{"http/1.1"},
	})
	if err := tlsConn.HandshakeContext(p.ctx); err != nil {
		p.logger.Debug("client TLS handshake failed", "target", target, "error", err)
		return
	}
	defer tlsConn.Close()

	state := tlsConn.ConnectionState()
	authority := stripDefaultPort(target, "443")
	tlsReader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(tlsReader)
		if err != nil {
			return
		}
		req.URL.Scheme = "https"
		req.URL.Host = authority
		req.TLS = &state
		if !p.serveRequest(tlsConn, tlsReader, req) {
			return
		}
	}
}

// serveRequest runs one exchange through the interceptor and upstream. It
// reports whether the client connection may carry another request.
func (p *Proxy) serveRequest(conn net.Conn, reader *bufio.Reader, req *http.Request) bool {
	start := time.Now()
	ex := &intercept.Exchange{Request: req, WebSocket: isWebSocketUpgrade(req.Header)}
	client := newClientResponse(conn, req)

	requestResumed := make(chan struct{})
	p.interceptor.OnProxiedRequest(p.ctx, ex, client, func() { close(requestResumed) })
	select {
	case <-requestResumed:
	case <-client.done:
		return p.finishClientResponse(client, ex.Request)
	case <-p.ctx.Done():
		return false
	}

	out := ex.Request.Clone(p.ctx)
	out.RequestURI = ""
	out.Header.Del("Proxy-Connection")
	out.Header.Del("Proxy-Authorization")

	resp, err := p.transport.RoundTrip(out)
	if err != nil {
		p.logger.Debug("upstream request failed", "method", out.Method, "url", out.URL.String(), "error", err)
		writeHTTPError(conn, http.StatusBadGateway, "Failed to reach upstream")
		return false
	}

	if resp.StatusCode == http.StatusSwitchingProtocols {
		p.tunnel(conn, reader, resp)
		return false
	}

	responseResumed := make(chan struct{})
	p.interceptor.OnProxiedResponse(p.ctx, ex, resp, func() { close(responseResumed) })
	select {
	case <-responseResumed:
	case <-client.done:
		_ = resp.Body.Close()
		return p.finishClientResponse(client, ex.Request)
	case <-p.ctx.Done():
		_ = resp.Body.Close()
		return false
	}
	defer resp.Body.Close()

	if err := writeResponse(conn, resp); err != nil {
		return false
	}

	p.logger.Debug("request complete",
		"method", out.Method,
		"url", out.URL.String(),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if out.Close || resp.Close {
		return false
	}
	return resp.ContentLength >= 0 || len(resp.TransferEncoding) > 0
}

// finishClientResponse discards any unread request body once a replacement
// response has been written.
func (p *Proxy) finishClientResponse(client *clientResponse, req *http.Request) bool {
	if !client.keepAlive() {
		return false
	}
	if req.Body != nil {
		if _, err := io.Copy(io.Discard, req.Body); err != nil {
			return false
		}
	}
	return true
}

// tunnel relays bytes both ways after a protocol switch.
func (p *Proxy) tunnel(conn net.Conn, reader *bufio.Reader, resp *http.Response) {
	upstream, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		_ = resp.Body.Close()
		writeHTTPError(conn, http.StatusBadGateway, "Upstream upgrade not supported")
		return
	}
	defer upstream.Close()

	if err := writeUpgradeResponse(conn, resp); err != nil {
		return
	}

	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(upstream, reader)
		errc <- err
	}()
	go func() {
		_, err := io.Copy(conn, upstream)
		errc <- err
	}()

	<-errc
	_ = conn.Close()
	_ = upstream.Close()
	<-errc
}

func isWebSocketUpgrade(h http.Header) bool {
	return httpguts.HeaderValuesContainsToken(h["Connection"], "upgrade") &&
		httpguts.HeaderValuesContainsToken(h["Upgrade"], "websocket")
}

func stripDefaultPort(hostport, port string) string {
	host, p, err := net.SplitHostPort(hostport)
	if err != nil || p != port {
		return hostport
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// bufferedConn reads through r so bytes buffered while parsing CONNECT
// reach the TLS handshake.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}
