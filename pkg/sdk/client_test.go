package sdk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/driver"
	"github.com/netstub/netstub/pkg/intercept"
	"github.com/netstub/netstub/pkg/proxy"
)

// harness wires a proxy, an interception manager and its driver server
// to an SDK client.
type harness struct {
	manager  *intercept.Manager
	client   *Client
	proxied  *http.Client
	upstream *httptest.Server
}

func newHarness(t *testing.T, codec string) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Upstream", "1")
		_, _ = fmt.Fprintf(w, "%s %s|%s|%s", r.Method, r.URL.Path, r.Header.Get("X-Added"), body)
	}))
	t.Cleanup(upstream.Close)

	mgr := intercept.NewManager(intercept.NewState(), logger, nil, nil)
	c, err := driver.NewCodec(codec)
	require.NoError(t, err)
	srv := driver.NewServer(c, driver.NewDispatcher(mgr, logger, nil), logger, nil)
	mgr.SetDriver(srv)
	driverHTTP := httptest.NewServer(srv)
	t.Cleanup(driverHTTP.Close)

	ca, err := proxy.NewCAPool(t.TempDir())
	require.NoError(t, err)
	px := proxy.New(mgr, ca, logger, proxy.Config{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = px.Serve(ln) }()
	t.Cleanup(func() { _ = px.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, "ws"+strings.TrimPrefix(driverHTTP.URL, "http"), codec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, srv.WaitConnected(ctx))

	proxyURL, err := url.Parse("http://" + ln.Addr().String())
	require.NoError(t, err)
	return &harness{
		manager:  mgr,
		client:   client,
		proxied:  &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}, Timeout: 10 * time.Second},
		upstream: upstream,
	}
}

func (h *harness) waitRoutes(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.manager.Routes() == n }, 5*time.Second, 10*time.Millisecond)
}

func (h *harness) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := h.proxied.Get(h.upstream.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestClient_Stub(t *testing.T) {
	for _, codec := range []string{api.CodecJSON, api.CodecCBOR} {
		t.Run(codec, func(t *testing.T) {
			h := newHarness(t, codec)
			ctx := context.Background()

			body := `{"stubbed":true}`
			require.NoError(t, h.client.Stub(ctx, Route().Pathname(Glob("/stubbed")).Build(), api.StaticResponse{
				StatusCode: http.StatusCreated,
				Headers:    map[string]string{"content-type": "application/json"},
				Body:       &body,
			}))
			h.waitRoutes(t, 1)

			resp, got := h.get(t, "/stubbed")
			assert.Equal(t, http.StatusCreated, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Equal(t, body, got)

			_, got = h.get(t, "/other")
			assert.Equal(t, "GET /other||", got)
		})
	}
}

func TestClient_InterceptRewritesRequest(t *testing.T) {
	h := newHarness(t, api.CodecJSON)
	ctx := context.Background()

	seen := make(chan api.SerializableRequest, 1)
	_, err := h.client.Intercept(ctx, Route().Method(Glob("POST")).Build(), func(ctx context.Context, req *InterceptedRequest) {
		seen <- req.Req
		req.Req.Headers["x-added"] = "from-sdk"
		req.Req.Body = api.String("rewritten")
		assert.NoError(t, req.Continue(ctx))
		assert.ErrorIs(t, req.Continue(ctx), ErrAlreadyReplied)
	})
	require.NoError(t, err)
	h.waitRoutes(t, 1)

	resp, err := h.proxied.Post(h.upstream.URL+"/submit", "text/plain", strings.NewReader("original"))
	require.NoError(t, err)
	defer resp.Body.Close()
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "POST /submit|from-sdk|rewritten", string(got))

	req := <-seen
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, api.String("original"), req.Body)
	assert.Equal(t, h.upstream.URL+"/submit", req.URL)
	assert.Equal(t, api.String("1.1"), req.HTTPVersion)
}

func TestClient_UnansweredHandlerContinues(t *testing.T) {
	h := newHarness(t, api.CodecJSON)

	_, err := h.client.Intercept(context.Background(), Route().Build(), func(context.Context, *InterceptedRequest) {})
	require.NoError(t, err)
	h.waitRoutes(t, 1)

	resp, got := h.get(t, "/quiet")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GET /quiet||", got)
}

func TestClient_RespondFromHandler(t *testing.T) {
	h := newHarness(t, api.CodecJSON)

	_, err := h.client.Intercept(context.Background(), Route().URL(Glob("/teapot")).Build(), func(ctx context.Context, req *InterceptedRequest) {
		body := "short and stout"
		assert.NoError(t, req.Respond(ctx, api.StaticResponse{StatusCode: http.StatusTeapot, Body: &body}))
	})
	require.NoError(t, err)
	h.waitRoutes(t, 1)

	resp, got := h.get(t, "/teapot")
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "short and stout", got)
}

func TestClient_TryNextRoute(t *testing.T) {
	h := newHarness(t, api.CodecCBOR)
	ctx := context.Background()

	orderc := make(chan string, 2)
	_, err := h.client.Intercept(ctx, Route().Build(), func(ctx context.Context, req *InterceptedRequest) {
		orderc <- "first"
		req.Req.Headers["x-added"] = "chained"
		assert.NoError(t, req.TryNextRoute(ctx))
	})
	require.NoError(t, err)
	_, err = h.client.Intercept(ctx, Route().Build(), func(ctx context.Context, req *InterceptedRequest) {
		orderc <- "second:" + req.Req.Headers["x-added"]
		assert.NoError(t, req.Continue(ctx))
	})
	require.NoError(t, err)
	h.waitRoutes(t, 2)

	_, got := h.get(t, "/chain")
	assert.Equal(t, "GET /chain|chained|", got)

	assert.Equal(t, "first", <-orderc)
	assert.Equal(t, "second:chained", <-orderc)
}

func TestClient_ResponseHandler(t *testing.T) {
	h := newHarness(t, api.CodecJSON)
	ctx := context.Background()

	seen := make(chan api.SerializableResponse, 1)
	_, err := h.client.Intercept(ctx, Route().Pathname(Glob("/mutate")).Build(), func(ctx context.Context, req *InterceptedRequest) {
		assert.NoError(t, req.ContinueWithResponseHandler(ctx, func(ctx context.Context, res *InterceptedResponse) {
			seen <- res.Res
			res.Res.StatusCode = http.StatusAccepted
			res.Res.StatusMessage = "Accepted"
			res.Res.Headers["x-intercepted"] = "yes"
			assert.NoError(t, res.Continue(ctx))
		}))
	})
	require.NoError(t, err)
	_, err = h.client.Intercept(ctx, Route().Pathname(Glob("/replace")).Build(), func(ctx context.Context, req *InterceptedRequest) {
		assert.NoError(t, req.ContinueWithResponseHandler(ctx, func(ctx context.Context, res *InterceptedResponse) {
			body := "replaced"
			assert.NoError(t, res.Respond(ctx, api.StaticResponse{StatusCode: http.StatusServiceUnavailable, Body: &body}))
		}))
	})
	require.NoError(t, err)
	h.waitRoutes(t, 2)

	resp, got := h.get(t, "/mutate")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Intercepted"))
	assert.Equal(t, "1", resp.Header.Get("X-Upstream"))
	assert.Equal(t, "GET /mutate||", got)

	res := <-seen
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "OK", res.StatusMessage)
	require.NotNil(t, res.Body)
	assert.Equal(t, "GET /mutate||", *res.Body)
	assert.Equal(t, h.upstream.URL+"/mutate", res.URL)

	resp, got = h.get(t, "/replace")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "replaced", got)
}

func TestClient_ClearRoutes(t *testing.T) {
	h := newHarness(t, api.CodecJSON)
	ctx := context.Background()

	body := "stub"
	require.NoError(t, h.client.Stub(ctx, Route().Build(), api.StaticResponse{Body: &body}))
	h.waitRoutes(t, 1)
	_, got := h.get(t, "/a")
	assert.Equal(t, "stub", got)

	require.NoError(t, h.client.ClearRoutes(ctx))
	h.waitRoutes(t, 0)
	_, got = h.get(t, "/a")
	assert.Equal(t, "GET /a||", got)
}

func TestClient_CloseEndsConnection(t *testing.T) {
	h := newHarness(t, api.CodecJSON)

	require.NoError(t, h.client.Close())
	<-h.client.Done()
	assert.NoError(t, h.client.Err())

	err := h.client.Stub(context.Background(), Route().Build(), api.StaticResponse{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDial_UnknownCodec(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/driver", "xml")
	assert.ErrorIs(t, err, driver.ErrUnknownCodec)
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), "ws://"+addr+"/driver", api.CodecJSON)
	assert.ErrorIs(t, err, ErrDial)
}
