package handler

import (
	"io"
	"net/http"
)

// StreamFunc writes the body in pieces, calling flush to push each piece to
// the client.
type StreamFunc func(w io.Writer, flush func()) error

type streamResponse struct {
	contentType string
	fn          StreamFunc
}

func (s streamResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", s.contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() { _ = rc.Flush() }
	flush()

	return s.fn(w, flush)
}

// Stream answers 200 and hands the writer to fn. Headers are committed
// before fn runs, so an error from fn can only be logged.
func Stream(contentType string, fn StreamFunc) Response {
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	return streamResponse{contentType: contentType, fn: fn}
}
