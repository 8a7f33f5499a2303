package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
)

// clientResponse buffers a response for the client connection and writes
// it on End. Exactly one of End or Destroy takes effect.
type clientResponse struct {
	conn net.Conn
	req  *http.Request

	mu        sync.Mutex
	header    http.Header
	status    int
	body      bytes.Buffer
	destroyed bool

	once sync.Once
	done chan struct{}
}

func newClientResponse(conn net.Conn, req *http.Request) *clientResponse {
	return &clientResponse{
		conn:   conn,
		req:    req,
		header: make(http.Header),
		done:   make(chan struct{}),
	}
}

func (c *clientResponse) Header() http.Header {
	return c.header
}

func (c *clientResponse) WriteHeader(statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == 0 {
		c.status = statusCode
	}
}

func (c *clientResponse) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *clientResponse) End() error {
	var err error
	c.once.Do(func() {
		defer close(c.done)

		c.mu.Lock()
		status := c.status
		if status == 0 {
			status = http.StatusOK
		}
		body := c.body.Bytes()
		c.mu.Unlock()

		resp := &http.Response{
			Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
			StatusCode:    status,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        c.header,
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       c.req,
			Close:         c.req.Close,
		}
		if err = writeResponse(c.conn, resp); err != nil {
			c.mu.Lock()
			c.destroyed = true
			c.mu.Unlock()
			_ = c.conn.Close()
		}
	})
	return err
}

func (c *clientResponse) Destroy() {
	c.once.Do(func() {
		c.mu.Lock()
		c.destroyed = true
		c.mu.Unlock()
		_ = c.conn.Close()
		close(c.done)
	})
}

// keepAlive reports whether the connection can serve another request after
// the response was ended.
func (c *clientResponse) keepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.destroyed && !c.req.Close
}
