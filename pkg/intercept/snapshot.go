package intercept

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/netstub/netstub/internal/errx"
	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/matcher"
)

func snapshotRequest(req *http.Request, body []byte) api.SerializableRequest {
	return api.SerializableRequest{
		URL:         matcher.RequestURL(req).String(),
		Method:      req.Method,
		Headers:     matcher.FlattenHeaders(req.Header, req.Host),
		Body:        api.String(string(body)),
		HTTPVersion: api.String(httpVersion(req.ProtoMajor, req.ProtoMinor)),
	}
}

func snapshotResponse(requestURL string, res *http.Response, body []byte) api.SerializableResponse {
	return api.SerializableResponse{
		SerializableRequest: api.SerializableRequest{
			URL:         requestURL,
			Headers:     matcher.FlattenHeaders(res.Header, ""),
			Body:        api.String(string(body)),
			HTTPVersion: api.String(httpVersion(res.ProtoMajor, res.ProtoMinor)),
		},
		StatusCode:    res.StatusCode,
		StatusMessage: statusMessage(res),
	}
}

func httpVersion(major, minor int) string {
	if major == 0 {
		return "1.1"
	}
	return fmt.Sprintf("%d.%d", major, minor)
}

func statusMessage(res *http.Response) string {
	msg := strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode))
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = http.StatusText(res.StatusCode)
	}
	return msg
}

// bufferRequestBody reads the whole request body and replaces it with an
// in-memory copy.
func bufferRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, errx.Wrap(ErrBufferBody, err)
	}
	setRequestBody(req, body)
	return body, nil
}

func setRequestBody(req *http.Request, body []byte) {
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
	req.TransferEncoding = nil
	req.Header.Del("Content-Length")
	req.Header.Del("Transfer-Encoding")
}

// bufferResponseBody reads the whole upstream body so the driver sees a
// complete payload, and re-frames the response with a Content-Length.
func bufferResponseBody(res *http.Response) ([]byte, error) {
	if res.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if err != nil {
		return nil, errx.Wrap(ErrBufferBody, err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil
	res.Header.Del("Transfer-Encoding")
	if res.Request == nil || res.Request.Method != http.MethodHead {
		res.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	return body, nil
}

// applyRequestSnapshot overwrites the allow-listed properties of req that
// the driver's snapshot carries and returns the resulting body. body is the
// currently buffered body.
func applyRequestSnapshot(req *http.Request, body []byte, snap *api.SerializableRequest) []byte {
	if snap.Method != "" {
		req.Method = snap.Method
	}

	if snap.Headers != nil {
		if value, ok := lookupFold(snap.Headers, "host"); ok && value != "" {
			req.Host = value
		}
		req.Header = rebuildHeaders(req.Header, snap.Headers, "host")
	}

	if snap.URL != "" && snap.URL != matcher.RequestURL(req).String() {
		if u, err := url.Parse(snap.URL); err == nil && u.IsAbs() {
			req.URL = u
			req.Host = u.Host
		}
	}

	if snap.HTTPVersion != nil {
		if major, minor, ok := http.ParseHTTPVersion("HTTP/" + *snap.HTTPVersion); ok {
			req.ProtoMajor, req.ProtoMinor = major, minor
			req.Proto = "HTTP/" + *snap.HTTPVersion
		}
	}

	if snap.Body != nil {
		body = []byte(*snap.Body)
		setRequestBody(req, body)
	}
	return body
}

// rebuildHeaders converts a flattened snapshot back into a header map. A
// header whose flattened value is unchanged keeps its original values, so
// repeated headers such as Set-Cookie survive the round trip.
func rebuildHeaders(prev http.Header, flat map[string]string, skip ...string) http.Header {
	h := make(http.Header, len(flat))
	for name, value := range flat {
		if slices.ContainsFunc(skip, func(s string) bool { return strings.EqualFold(s, name) }) {
			continue
		}
		key := http.CanonicalHeaderKey(name)
		if values := prev.Values(key); len(values) > 1 && strings.Join(values, ", ") == value {
			h[key] = append(h[key], values...)
			continue
		}
		h.Add(key, value)
	}
	return h
}

func lookupFold(m map[string]string, key string) (string, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// applyResponseSnapshot overwrites the status line and headers of res from
// the driver's snapshot. Body rewrites are not supported; it reports
// whether the snapshot carried a different body.
func applyResponseSnapshot(res *http.Response, body []byte, snap *api.SerializableResponse) (bodyChanged bool) {
	if snap.StatusCode != 0 {
		res.StatusCode = snap.StatusCode
	}
	if snap.StatusCode != 0 || snap.StatusMessage != "" {
		msg := snap.StatusMessage
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		res.Status = fmt.Sprintf("%d %s", res.StatusCode, msg)
	}

	if snap.Headers != nil {
		h := rebuildHeaders(res.Header, snap.Headers)
		h.Del("Transfer-Encoding")
		if res.Request == nil || res.Request.Method != http.MethodHead {
			h.Set("Content-Length", strconv.Itoa(len(body)))
		}
		res.Header = h
	}

	return snap.Body != nil && *snap.Body != string(body)
}
