// Package bridge implements the process bridge (C1): the full-duplex
// coupler between a hijacked HTTP connection and a spawned git child
// process running in --stateless-rpc mode.
//
// The scheduling model described in the source is a single-threaded
// event loop with one readiness-driven handler per child descriptor; here
// each descriptor gets its own goroutine instead (stdin writer, stdout
// reader, stderr reader), coordinated through a small mutex-guarded gate
// rather than callback re-entry flags. This is the "lightweight task per
// descriptor" rewrite its own design notes call for, and it drops the
// reading_chunks/got_chunk re-entry guard entirely: Go's blocking I/O
// makes a straight loop sufficient.
package bridge

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/gittornado/gittornado/pkg/framer"
	"github.com/gittornado/gittornado/pkg/metrics"
)

const stdoutReadBlock = 8 * 1024

// Bridge is the per-request coupler. Construct one per hijacked
// connection immediately after the permission check passes, then call
// Run.
type Bridge struct {
	Conn           net.Conn
	RW             *bufio.ReadWriter
	Req            *http.Request
	Argv           []string
	SuccessHeaders http.Header
	Prelude        []byte
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	RPCLabel       string

	headerGate headerGate
	framer     *framer.Framer
}

// headerGate implements the bridge's headers_sent invariant: exactly one
// of the stdout-success path and the stderr-error path may write the
// response status line, whichever gets there first.
type headerGate struct {
	mu   sync.Mutex
	sent bool
}

func (g *headerGate) claim() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sent {
		return false
	}
	g.sent = true
	return true
}

func (g *headerGate) isSent() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent
}

// Run spawns the child and drives the bridge to completion. It returns
// once the response has been fully written (or the connection aborted)
// and the child has been reaped.
func (b *Bridge) Run() error {
	if b.Logger == nil {
		b.Logger = zap.NewNop()
	}

	if !strings.HasPrefix(b.Req.Proto, "HTTP/1.1") {
		// Design Notes: the HTTP/1.0 blocking-drain path is a known
		// deadlock hazard; refuse instead of implementing it.
		return b.refuseHTTP10()
	}

	start := time.Now()
	cmd := exec.Command(b.Argv[0], b.Argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return b.writeSpawnFailure(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return b.writeSpawnFailure(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return b.writeSpawnFailure(err)
	}

	if err := cmd.Start(); err != nil {
		return b.writeSpawnFailure(err)
	}

	var abortNoResponse boolFlag

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		b.pumpStdin(stdin, &abortNoResponse)
	}()
	go func() {
		defer wg.Done()
		b.pumpStdout(stdout)
	}()
	go func() {
		defer wg.Done()
		b.pumpStderr(stderr)
	}()

	wg.Wait()

	if b.Metrics != nil {
		b.Metrics.BridgeDuration.WithLabelValues(b.RPCLabel).Observe(time.Since(start).Seconds())
	}

	return b.finish(cmd, &abortNoResponse)
}

// pumpStdin determines the inbound body source (spec §4.1 items 1-3) and
// copies decoded bytes into the child's stdin, closing it once the
// request has been fully received.
func (b *Bridge) pumpStdin(stdin io.WriteCloser, abort *boolFlag) {
	defer stdin.Close()

	if b.Req.Body == nil || b.Req.Method == http.MethodGet || b.Req.Method == http.MethodHead {
		return
	}

	var src io.Reader

	expectContinue := strings.EqualFold(b.Req.Header.Get("Expect"), "100-continue")
	chunkedBody := strings.Contains(strings.ToLower(b.Req.Header.Get("Transfer-Encoding")), "chunked")

	if expectContinue && chunkedBody {
		if _, err := io.WriteString(b.Conn, "HTTP/1.1 100 (Continue)\r\n\r\n"); err != nil {
			b.Logger.Warn("failed writing 100-continue", zap.Error(err))
			abort.set()
			return
		}
		src = framer.NewChunkReader(b.RW.Reader)
	} else {
		src = b.Req.Body
	}

	if strings.EqualFold(b.Req.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(src)
		if err != nil {
			b.Logger.Warn("gzip decode failed", zap.Error(err))
			abort.set()
			return
		}
		defer gz.Close()
		src = gz
	}

	n, err := io.Copy(stdin, src)
	if err != nil {
		// Malformed chunk length or gzip stream failure: close with no
		// response if nothing has gone out yet, else close mid-stream.
		b.Logger.Warn("inbound decode/copy failed", zap.Error(err), zap.Int64("bytes_copied", n))
		abort.set()
		return
	}

	if b.Metrics != nil {
		b.Metrics.BytesToChild.Add(float64(n))
	}
}

// pumpStdout owns the success-response path: on the first readable byte
// it claims the header gate and emits the status line, success headers
// and prelude, then frames every subsequent read as a chunk.
func (b *Bridge) pumpStdout(stdout io.Reader) {
	buf := make([]byte, stdoutReadBlock)
	var total int64
	first := true
	var ownFramer *framer.Framer

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if first {
				first = false
				if b.headerGate.claim() {
					ownFramer = framer.New(b.Conn, b.Req.Proto, framer.ChunkedMode)
					b.framer = ownFramer
					_ = ownFramer.WriteHeaders(http.StatusOK, b.SuccessHeaders, 0)
					if len(b.Prelude) > 0 {
						_ = ownFramer.WritePayload(b.Prelude)
					}
				}
			}
			// Only write through ownFramer: if pumpStderr won the header
			// gate instead, b.framer now belongs to its 500 response and
			// must not have stdout bytes appended to it.
			if ownFramer != nil {
				if werr := ownFramer.WritePayload(buf[:n]); werr != nil {
					b.Logger.Warn("writing stdout chunk failed", zap.Error(werr))
					return
				}
				_ = ownFramer.Flush()
			}
			total += int64(n)
		}
		if err != nil {
			if err != io.EOF {
				b.Logger.Warn("reading child stdout failed", zap.Error(err))
			}
			break
		}
	}

	if b.Metrics != nil {
		b.Metrics.BytesFromChild.Add(float64(total))
	}
}

// pumpStderr implements the error path (spec §4.1 item 9): bytes seen
// before headers_sent are drained fully and turned into a 500 response;
// bytes seen after headers_sent are logged only, since folding them into
// an already-framed response would corrupt it.
func (b *Bridge) pumpStderr(stderr io.Reader) {
	br := bufio.NewReader(stderr)
	if _, err := br.Peek(1); err != nil {
		return
	}

	if !b.headerGate.claim() {
		data, _ := io.ReadAll(br)
		b.Logger.Info("child wrote to stderr after response started", zap.ByteString("stderr", data))
		return
	}

	data, _ := io.ReadAll(br)

	if b.Metrics != nil {
		b.Metrics.ChildFailures.WithLabelValues(b.RPCLabel, "stderr").Inc()
	}

	f := framer.New(b.Conn, b.Req.Proto, framer.LengthPrefixedMode)
	headers := make(http.Header)
	_ = f.WriteHeaders(http.StatusInternalServerError, headers, len(data))
	_ = f.WritePayload(data)
	b.framer = f
}

// finish is the idempotent completion step: close stdin if still open
// (handled by pumpStdin's defer), emit the "did not produce any data"
// diagnostic if nothing was ever sent, terminate chunked framing, and
// reap the child.
func (b *Bridge) finish(cmd *exec.Cmd, abort *boolFlag) error {
	defer func() {
		_ = b.Conn.Close()
		_ = cmd.Wait()
	}()

	if abort.isSet() {
		return nil
	}

	if !b.headerGate.isSent() {
		f := framer.New(b.Conn, b.Req.Proto, framer.LengthPrefixedMode)
		body := []byte("did not produce any data")
		_ = f.WriteHeaders(http.StatusInternalServerError, make(http.Header), len(body))
		_ = f.WritePayload(body)
		return nil
	}

	if b.framer != nil {
		return b.framer.Terminate()
	}
	return nil
}

func (b *Bridge) writeSpawnFailure(err error) error {
	b.Logger.Error("subprocess spawn failed", zap.Error(err))
	if b.Metrics != nil {
		b.Metrics.ChildFailures.WithLabelValues(b.RPCLabel, "spawn").Inc()
	}
	f := framer.New(b.Conn, b.Req.Proto, framer.LengthPrefixedMode)
	body := []byte(fmt.Sprintf("subprocess returned prematurely: %v", err))
	_ = f.WriteHeaders(http.StatusInternalServerError, make(http.Header), len(body))
	_ = f.WritePayload(body)
	return b.Conn.Close()
}

func (b *Bridge) refuseHTTP10() error {
	f := framer.New(b.Conn, b.Req.Proto, framer.LengthPrefixedMode)
	body := []byte("HTTP/1.0 is not supported by this gateway")
	_ = f.WriteHeaders(http.StatusHTTPVersionNotSupported, make(http.Header), len(body))
	_ = f.WritePayload(body)
	return b.Conn.Close()
}

// boolFlag is a tiny mutex-guarded flag; sync/atomic.Bool would do as
// well but this keeps the zero value meaningful without an import bump.
type boolFlag struct {
	mu  sync.Mutex
	val bool
}

func (f *boolFlag) set() {
	f.mu.Lock()
	f.val = true
	f.mu.Unlock()
}

func (f *boolFlag) isSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val
}
