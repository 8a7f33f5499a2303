package intercept

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/matcher"
	"github.com/netstub/netstub/pkg/route"
)

type fakeClient struct {
	mu        sync.Mutex
	header    http.Header
	status    int
	body      bytes.Buffer
	ended     bool
	destroyed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{header: make(http.Header)}
}

func (c *fakeClient) Header() http.Header { return c.header }

func (c *fakeClient) WriteHeader(statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = statusCode
}

func (c *fakeClient) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body.Write(p)
}

func (c *fakeClient) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
	return nil
}

func (c *fakeClient) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
}

type fakeDriver struct {
	mu     sync.Mutex
	frames []api.Frame
	err    error
}

func (d *fakeDriver) Send(_ context.Context, frame api.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.frames = append(d.frames, frame)
	return nil
}

func (d *fakeDriver) sent() []api.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.Frame(nil), d.frames...)
}

type resumeCounter struct {
	mu sync.Mutex
	n  int
}

func (r *resumeCounter) fn() func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.n++
	}
}

func (r *resumeCounter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func newTestManager(t *testing.T) (*Manager, *fakeDriver) {
	t.Helper()
	m := NewManager(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)
	var seq int
	m.newID = func() string {
		seq++
		return fmt.Sprintf("req-%d", seq)
	}
	d := &fakeDriver{}
	m.SetDriver(d)
	return m, d
}

func newExchange(method, target, body string) *Exchange {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.RequestURI = ""
	return &Exchange{Request: req}
}

func handlerRoute(pattern, handlerID string) *route.Route {
	sm := matcher.Glob(pattern)
	return &route.Route{Matcher: matcher.RouteMatcher{URL: &sm}, HandlerID: handlerID}
}

func staticRoute(pattern string, sr api.StaticResponse) *route.Route {
	sm := matcher.Glob(pattern)
	return &route.Route{Matcher: matcher.RouteMatcher{URL: &sm}, StaticResponse: &sr}
}

func upstreamResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func strPtr(s string) *string { return &s }
