package adaptor

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cloudwego/netpoll"
	"github.com/valyala/bytebufferpool"

	"github.com/gittornado/gittornado/pkg/appcontext"
)

var errHijacked = errors.New("connection has been hijacked")

// ResponseWriter implements http.ResponseWriter and wraps a netpoll connection.
type ResponseWriter struct {
	ctx         *appcontext.RequestContext
	req         *http.Request
	header      http.Header
	statusCode  int
	wroteHeader bool
	hijacked    bool
	chunked     bool
	body        *bytebufferpool.ByteBuffer
}

// rwPool recycles ResponseWriter objects to reduce GC pressure.
var rwPool = sync.Pool{
	New: func() any {
		return &ResponseWriter{
			header: make(http.Header),
		}
	},
}

// copyBufPool provides buffers for io.CopyBuffer to enable zero-alloc copying.
var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// NewResponseWriter creates a new ResponseWriter from the pool.
func NewResponseWriter(ctx *appcontext.RequestContext, req *http.Request) *ResponseWriter {
	rw := rwPool.Get().(*ResponseWriter)
	rw.ctx = ctx
	rw.req = req
	rw.statusCode = 0
	rw.wroteHeader = false
	rw.hijacked = false
	rw.chunked = false
	rw.body = bytebufferpool.Get()

	return rw
}

// Release returns the ResponseWriter to the pool.
func (rw *ResponseWriter) Release() {
	rw.ctx = nil
	rw.req = nil
	if rw.body != nil {
		bytebufferpool.Put(rw.body)
		rw.body = nil
	}
	clear(rw.header)
	rwPool.Put(rw)
}

func (rw *ResponseWriter) Header() http.Header {
	return rw.header
}

func (rw *ResponseWriter) WriteHeader(statusCode int) {
	if rw.wroteHeader || rw.hijacked {
		return
	}
	rw.statusCode = statusCode
}

func (rw *ResponseWriter) Write(p []byte) (int, error) {
	if rw.hijacked {
		return 0, errHijacked
	}
	if !rw.wroteHeader && rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	return rw.body.Write(p)
}

// ReadFrom implements io.ReaderFrom for efficient transfer of large response
// bodies.
func (rw *ResponseWriter) ReadFrom(r io.Reader) (n int64, err error) {
	if rw.hijacked {
		return 0, errHijacked
	}

	writer := rw.ctx.Conn().Writer()

	if !rw.wroteHeader {
		if rw.statusCode == 0 {
			rw.statusCode = http.StatusOK
		}

		_, hasCL := rw.header["Content-Length"]
		hasChunked := rw.header.Get("Transfer-Encoding") == "chunked"
		shouldChunk := !hasCL || hasChunked

		rw.writeHeaders(writer, shouldChunk)

		if err := writer.Flush(); err != nil {
			return 0, err
		}
	}

	if rw.chunked {
		bufp := copyBufPool.Get().(*[]byte)
		buf := *bufp
		defer copyBufPool.Put(bufp)

		for {
			nr, er := r.Read(buf)
			if nr > 0 {
				chunkHeader := strconv.FormatInt(int64(nr), 16) + "\r\n"
				writer.WriteString(chunkHeader)
				writer.WriteBinary(buf[:nr])
				writer.WriteString("\r\n")
				if err := writer.Flush(); err != nil {
					return n, err
				}
				n += int64(nr)
			}
			if er != nil {
				if er != io.EOF {
					err = er
				}
				break
			}
		}
		if fErr := writer.Flush(); fErr != nil && err == nil {
			err = fErr
		}
		return n, err
	}

	if rf, ok := writer.(io.ReaderFrom); ok {
		n, err = rf.ReadFrom(r)
	} else {
		bufp := copyBufPool.Get().(*[]byte)
		buf := *bufp
		n, err = io.CopyBuffer(netpollWriterWrapper{w: writer}, r, buf)
		copyBufPool.Put(bufp)
	}

	return n, err
}

func (rw *ResponseWriter) Flush() {
	if rw.hijacked {
		return
	}
	writer := rw.ctx.Conn().Writer()

	if !rw.wroteHeader {
		if rw.statusCode == 0 {
			rw.statusCode = http.StatusOK
		}
		rw.writeHeaders(writer, true)
	}

	if rw.body.Len() > 0 {
		chunkHeader := strconv.FormatInt(int64(rw.body.Len()), 16) + "\r\n"
		writer.WriteString(chunkHeader)
		writer.WriteBinary(rw.body.Bytes())
		writer.WriteString("\r\n")
		rw.body.Reset()
	}
	writer.Flush()
}

// Hijack detaches the connection from normal response handling so a caller
// (the RPC bridge) can take raw ownership of it. The returned bufio.Reader
// is the SAME reader the engine used to parse the request: net/http may
// already have buffered bytes past the header terminator (a partial body,
// or the start of a pipelined request), and wrapping conn fresh would
// silently drop them.
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if rw.hijacked {
		return nil, nil, errHijacked
	}
	if rw.wroteHeader {
		return nil, nil, errors.New("cannot hijack after response headers were written")
	}
	rw.hijacked = true
	conn := rw.ctx.Conn()
	br := rw.ctx.GetReader()
	return conn, bufio.NewReadWriter(br, bufio.NewWriter(conn)), nil
}

// Hijacked returns true if the connection has been hijacked.
func (rw *ResponseWriter) Hijacked() bool {
	return rw.hijacked
}

func (rw *ResponseWriter) writeHeaders(writer netpoll.Writer, isStreaming bool) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true

	var buf bytes.Buffer

	if rw.header.Get("Date") == "" {
		rw.header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	if rw.header.Get("Content-Type") == "" && rw.body.Len() > 0 {
		sniffBuf := rw.body.Bytes()
		if len(sniffBuf) > 512 {
			sniffBuf = sniffBuf[:512]
		}
		rw.header.Set("Content-Type", http.DetectContentType(sniffBuf))
	}

	buf.WriteString(rw.req.Proto)
	buf.WriteString(" ")
	buf.WriteString(strconv.Itoa(rw.statusCode))
	buf.WriteString(" ")
	buf.WriteString(http.StatusText(rw.statusCode))
	buf.WriteString("\r\n")

	// RFC 7230: 1xx, 204 and 304 responses must not carry a body.
	noBody := rw.statusCode >= 100 && rw.statusCode < 200 || rw.statusCode == 204 || rw.statusCode == 304

	if isStreaming && !noBody {
		rw.chunked = true
		buf.WriteString("Transfer-Encoding: chunked\r\n")
		rw.header.Del("Content-Length")
		rw.header.Del("Transfer-Encoding")
	} else {
		if rw.header.Get("Content-Length") == "" && !noBody {
			rw.header.Set("Content-Length", strconv.Itoa(rw.body.Len()))
		}
		rw.header.Del("Transfer-Encoding")
	}

	for k, v := range rw.header {
		for _, vv := range v {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(vv)
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\r\n")
	writer.WriteBinary(buf.Bytes())
}

func (rw *ResponseWriter) EndResponse() error {
	if rw.hijacked {
		bytebufferpool.Put(rw.body)
		rw.body = nil
		return nil
	}

	writer := rw.ctx.Conn().Writer()
	isStreaming := rw.header.Get("Transfer-Encoding") == "chunked" || rw.header.Get("Content-Length") == ""

	if !rw.wroteHeader {
		if rw.statusCode == 0 {
			rw.statusCode = http.StatusOK
		}
		rw.writeHeaders(writer, isStreaming)
	}

	noBody := rw.statusCode >= 100 && rw.statusCode < 200 || rw.statusCode == 204 || rw.statusCode == 304

	if rw.chunked {
		if !noBody && rw.body.Len() > 0 {
			chunkHeader := strconv.FormatInt(int64(rw.body.Len()), 16) + "\r\n"
			writer.WriteString(chunkHeader)
			writer.WriteBinary(rw.body.Bytes())
			writer.WriteString("\r\n")
		}
		writer.WriteString("0\r\n\r\n")
	} else if !noBody && rw.body.Len() > 0 {
		if _, err := writer.WriteBinary(rw.body.Bytes()); err != nil {
			bytebufferpool.Put(rw.body)
			rw.body = nil
			return err
		}
	}

	bytebufferpool.Put(rw.body)
	rw.body = nil
	return writer.Flush()
}

// GetRequest parses the next HTTP request off the connection's reusable reader.
func GetRequest(ctx *appcontext.RequestContext) (*http.Request, error) {
	reader := ctx.GetReader()
	req, err := http.ReadRequest(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.New("failed to read request")
	}
	req.URL.Scheme = "http"
	req.URL.Host = req.Host
	req.RemoteAddr = ctx.Conn().RemoteAddr().String()

	return req, nil
}

// netpollWriterWrapper adapts netpoll.Writer to io.Writer, flushing on every
// write since netpoll buffers internally and would otherwise hold bytes back.
type netpollWriterWrapper struct {
	w netpoll.Writer
}

func (w netpollWriterWrapper) Write(p []byte) (int, error) {
	n, err := w.w.WriteBinary(p)
	if err != nil {
		return n, err
	}
	return n, w.w.Flush()
}
