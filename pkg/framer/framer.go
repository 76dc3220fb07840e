package framer

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// Mode selects how a Framer frames its response body.
type Mode int

const (
	// ChunkedMode frames the body as HTTP/1.1 chunked transfer encoding.
	ChunkedMode Mode = iota
	// LengthPrefixedMode frames the body with a known Content-Length,
	// for responses whose whole body is known up front (the bridge's 500
	// and 505 responses).
	LengthPrefixedMode
)

// Framer is the small encoder object Design Notes calls for: it owns the
// socket and knows only two shapes, chosen once at construction. Callers
// push payloads and a terminator; Framer never re-derives framing mid
// stream.
type Framer struct {
	w           io.Writer
	mode        Mode
	proto       string
	headersSent bool
}

// New constructs a Framer writing to w for the given request protocol
// ("HTTP/1.1" or "HTTP/1.0") and mode.
func New(w io.Writer, proto string, mode Mode) *Framer {
	return &Framer{w: w, proto: proto, mode: mode}
}

// WriteHeaders writes the status line and headers. For ChunkedMode a
// Transfer-Encoding: chunked header is added and Content-Length stripped;
// for LengthPrefixedMode the caller-supplied contentLength is written and
// Transfer-Encoding stripped. WriteHeaders may be called only once.
func (f *Framer) WriteHeaders(status int, headers http.Header, contentLength int) error {
	if f.headersSent {
		return nil
	}
	f.headersSent = true

	if headers == nil {
		headers = make(http.Header)
	}
	if headers.Get("Date") == "" {
		headers.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	switch f.mode {
	case ChunkedMode:
		headers.Del("Content-Length")
		headers.Set("Transfer-Encoding", "chunked")
	case LengthPrefixedMode:
		headers.Del("Transfer-Encoding")
		headers.Set("Content-Length", strconv.Itoa(contentLength))
	}

	if _, err := fmt.Fprintf(f.w, "%s %d %s\r\n", f.proto, status, http.StatusText(status)); err != nil {
		return err
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range headers[k] {
			if _, err := fmt.Fprintf(f.w, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(f.w, "\r\n")
	return err
}

// WritePayload pushes a body fragment. In ChunkedMode it is wrapped as one
// chunk; in LengthPrefixedMode it is written verbatim (the caller is
// responsible for having already computed the total Content-Length).
func (f *Framer) WritePayload(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if f.mode == ChunkedMode {
		return WriteChunk(f.w, p)
	}
	_, err := f.w.Write(p)
	return err
}

// Terminate ends the response body: the zero-length chunk in ChunkedMode,
// a no-op in LengthPrefixedMode since the Content-Length already bounds
// the body.
func (f *Framer) Terminate() error {
	if f.mode == ChunkedMode {
		return WriteTerminator(f.w)
	}
	return nil
}

// HeadersSent reports whether WriteHeaders has run, mirroring the
// headers_sent flag from the bridge's state machine.
func (f *Framer) HeadersSent() bool {
	return f.headersSent
}

// Flush flushes the underlying writer if it supports it.
func (f *Framer) Flush() error {
	if fl, ok := f.w.(interface{ Flush() error }); ok {
		return fl.Flush()
	}
	return nil
}
