package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/intercept"
)

// stubInterceptor passes exchanges through unless a hook is set.
type stubInterceptor struct {
	onRequest  func(ex *intercept.Exchange, res intercept.ClientResponse, resume func())
	onResponse func(ex *intercept.Exchange, upstream *http.Response, resume func())

	mu        sync.Mutex
	exchanges []*intercept.Exchange
}

func (s *stubInterceptor) OnProxiedRequest(_ context.Context, ex *intercept.Exchange, res intercept.ClientResponse, resume func()) {
	s.mu.Lock()
	s.exchanges = append(s.exchanges, ex)
	s.mu.Unlock()
	if s.onRequest != nil {
		s.onRequest(ex, res, resume)
		return
	}
	resume()
}

func (s *stubInterceptor) OnProxiedResponse(_ context.Context, ex *intercept.Exchange, upstream *http.Response, resume func()) {
	if s.onResponse != nil {
		s.onResponse(ex, upstream, resume)
		return
	}
	resume()
}

func (s *stubInterceptor) seen() []*intercept.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*intercept.Exchange(nil), s.exchanges...)
}

func startProxy(t *testing.T, ic Interceptor, cfg Config) (*Proxy, *CAPool, string) {
	t.Helper()
	ca, err := NewCAPool(t.TempDir())
	require.NoError(t, err)

	p := New(ic, ca, nil, cfg)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = p.Serve(ln) }()
	t.Cleanup(func() { _ = p.Close() })
	return p, ca, ln.Addr().String()
}

func proxiedClient(t *testing.T, proxyAddr string, roots *x509.CertPool) *http.Client {
	t.Helper()
	proxyURL, err := url.Parse("http://" + proxyAddr)
	require.NoError(t, err)
	return &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{RootCAs: roots},
		},
		Timeout: 10 * time.Second,
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func strPtr(s string) *string { return &s }

func TestProxy_PassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		_, _ = io.WriteString(w, "hello "+r.URL.Path)
	}))
	defer upstream.Close()

	ic := &stubInterceptor{}
	_, _, addr := startProxy(t, ic, Config{})
	client := proxiedClient(t, addr, nil)

	for i := 0; i < 2; i++ {
		resp, err := client.Get(upstream.URL + "/greet?x=1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
		assert.Equal(t, "hello /greet", readBody(t, resp))
	}

	seen := ic.seen()
	require.Len(t, seen, 2)
	assert.Equal(t, upstream.URL+"/greet?x=1", seen[0].Request.URL.String())
	assert.False(t, seen[0].WebSocket)
}

func TestProxy_StaticResponseSkipsUpstream(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	ic := &stubInterceptor{
		onRequest: func(_ *intercept.Exchange, res intercept.ClientResponse, _ func()) {
			_ = intercept.ApplyStaticResponse(res, &api.StaticResponse{
				StatusCode: http.StatusTeapot,
				Headers:    map[string]string{"X-Stub": "1"},
				Body:       strPtr("short and stout"),
			})
		},
	}
	_, _, addr := startProxy(t, ic, Config{})
	client := proxiedClient(t, addr, nil)

	resp, err := client.Post(upstream.URL+"/brew", "text/plain", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-Stub"))
	assert.Equal(t, "short and stout", readBody(t, resp))
	assert.Zero(t, hits.Load())
}

func TestProxy_DestroySocket(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	ic := &stubInterceptor{
		onRequest: func(_ *intercept.Exchange, res intercept.ClientResponse, _ func()) {
			_ = intercept.ApplyStaticResponse(res, &api.StaticResponse{DestroySocket: true})
		},
	}
	_, _, addr := startProxy(t, ic, Config{})
	client := proxiedClient(t, addr, nil)

	_, err := client.Get(upstream.URL)
	assert.Error(t, err)
}

func TestProxy_AsyncResumeWithMutatedRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Header.Get("X-Injected"))
	}))
	defer upstream.Close()

	ic := &stubInterceptor{
		onRequest: func(ex *intercept.Exchange, _ intercept.ClientResponse, resume func()) {
			go func() {
				time.Sleep(10 * time.Millisecond)
				ex.Request.Header.Set("X-Injected", "from-handler")
				resume()
			}()
		},
	}
	_, _, addr := startProxy(t, ic, Config{})
	client := proxiedClient(t, addr, nil)

	resp, err := client.Get(upstream.URL)
	require.NoError(t, err)
	assert.Equal(t, "from-handler", readBody(t, resp))
}

func TestProxy_ResponsePhase(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "upstream")
	}))
	defer upstream.Close()

	t.Run("mutate", func(t *testing.T) {
		ic := &stubInterceptor{
			onResponse: func(_ *intercept.Exchange, res *http.Response, resume func()) {
				res.StatusCode = http.StatusAccepted
				res.Status = "202 Accepted"
				res.Header.Set("X-Seen", "1")
				resume()
			},
		}
		_, _, addr := startProxy(t, ic, Config{})

		resp, err := proxiedClient(t, addr, nil).Get(upstream.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, "1", resp.Header.Get("X-Seen"))
		assert.Equal(t, "upstream", readBody(t, resp))
	})

	t.Run("replace", func(t *testing.T) {
		var client intercept.ClientResponse
		ic := &stubInterceptor{
			onRequest: func(_ *intercept.Exchange, res intercept.ClientResponse, resume func()) {
				client = res
				resume()
			},
			onResponse: func(_ *intercept.Exchange, _ *http.Response, _ func()) {
				_ = intercept.ApplyStaticResponse(client, &api.StaticResponse{
					StatusCode: http.StatusServiceUnavailable,
					Body:       strPtr("replaced"),
				})
			},
		}
		_, _, addr := startProxy(t, ic, Config{})

		resp, err := proxiedClient(t, addr, nil).Get(upstream.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "replaced", readBody(t, resp))
	})
}

func TestProxy_UpstreamUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, _, addr := startProxy(t, &stubInterceptor{}, Config{DialTimeout: time.Second})

	resp, err := proxiedClient(t, addr, nil).Get("http://" + deadAddr + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	_ = readBody(t, resp)
}

func TestProxy_HTTPSThroughConnect(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "secure "+r.URL.Path)
	}))
	defer upstream.Close()

	upstreamRoots := x509.NewCertPool()
	upstreamRoots.AddCert(upstream.Certificate())

	ic := &stubInterceptor{}
	_, ca, addr := startProxy(t, ic, Config{UpstreamTLS: &tls.Config{RootCAs: upstreamRoots}})
	client := proxiedClient(t, addr, ca.CertPool())

	resp, err := client.Get(upstream.URL + "/vault")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "secure /vault", readBody(t, resp))

	require.NotNil(t, resp.TLS)
	leaf := resp.TLS.PeerCertificates[0]
	assert.Equal(t, "netstub interception CA", leaf.Issuer.CommonName)

	seen := ic.seen()
	require.Len(t, seen, 1)
	assert.Equal(t, upstream.URL+"/vault", seen[0].Request.URL.String())
	assert.NotNil(t, seen[0].Request.TLS)
}

func TestProxy_RejectsOriginFormRequests(t *testing.T) {
	_, _, addr := startProxy(t, &stubInterceptor{}, Config{})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "GET /relative HTTP/1.1\r\nHost: example.com\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProxy_WebSocketUpgradeTunnel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, rw, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = rw.WriteString("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n")
		_ = rw.Flush()
		buf := make([]byte, 4)
		if _, err := io.ReadFull(rw, buf); err != nil {
			return
		}
		_, _ = rw.Write(buf)
		_ = rw.Flush()
	}))
	defer upstream.Close()

	ic := &stubInterceptor{}
	_, _, addr := startProxy(t, ic, Config{})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	host := upstream.Listener.Addr().String()
	_, err = io.WriteString(conn, "GET http://"+host+"/socket HTTP/1.1\r\n"+
		"Host: "+host+"\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n")
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	_, err = io.WriteString(conn, "ping")
	require.NoError(t, err)
	echo := make([]byte, 4)
	_, err = io.ReadFull(reader, echo)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(echo))

	seen := ic.seen()
	require.Len(t, seen, 1)
	assert.True(t, seen[0].WebSocket)
}

func TestProxy_CloseReleasesParkedExchange(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	parked := make(chan struct{})
	ic := &stubInterceptor{
		onRequest: func(_ *intercept.Exchange, _ intercept.ClientResponse, _ func()) {
			close(parked)
		},
	}
	p, _, addr := startProxy(t, ic, Config{})
	client := proxiedClient(t, addr, nil)

	errc := make(chan error, 1)
	go func() {
		resp, err := client.Get(upstream.URL)
		if err == nil {
			_ = resp.Body.Close()
		}
		errc <- err
	}()

	<-parked
	require.NoError(t, p.Close())

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("parked request was not released by Close")
	}
}

func TestIsWebSocketUpgrade(t *testing.T) {
	h := http.Header{}
	assert.False(t, isWebSocketUpgrade(h))

	h.Set("Connection", "keep-alive, Upgrade")
	h.Set("Upgrade", "websocket")
	assert.True(t, isWebSocketUpgrade(h))

	h.Set("Upgrade", "h2c")
	assert.False(t, isWebSocketUpgrade(h))
}

func TestStripDefaultPort(t *testing.T) {
	assert.Equal(t, "example.com", stripDefaultPort("example.com:443", "443"))
	assert.Equal(t, "example.com:8443", stripDefaultPort("example.com:8443", "443"))
	assert.Equal(t, "[::1]", stripDefaultPort("[::1]:443", "443"))
	assert.Equal(t, "example.com", stripDefaultPort("example.com", "443"))
}
