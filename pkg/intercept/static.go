package intercept

import (
	"io"
	"net/http"

	"github.com/netstub/netstub/internal/errx"
	"github.com/netstub/netstub/pkg/api"
)

// ClientResponse is the proxy's handle on the response to the client.
type ClientResponse interface {
	Header() http.Header
	WriteHeader(statusCode int)
	Write(p []byte) (int, error)
	// End flushes the response to the client.
	End() error
	// Destroy drops the client connection without a response.
	Destroy()
}

// ApplyStaticResponse writes sr to res. It is terminal: nothing else may be
// written to res afterwards.
func ApplyStaticResponse(res ClientResponse, sr *api.StaticResponse) error {
	if sr.DestroySocket {
		res.Destroy()
		return nil
	}

	h := res.Header()
	for name, value := range sr.Headers {
		h.Set(name, value)
	}

	status := sr.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	res.WriteHeader(status)

	if sr.Body != nil {
		if _, err := io.WriteString(res, *sr.Body); err != nil {
			return errx.Wrap(ErrWriteStatic, err)
		}
	}
	if err := res.End(); err != nil {
		return errx.Wrap(ErrWriteStatic, err)
	}
	return nil
}
