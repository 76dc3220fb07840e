package framer

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"
	"testing"
)

func TestChunkRoundTrip_EncodeThenDecode(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	encoded := ChunkEncode(data)

	decoded, err := ChunkDecode(bufio.NewReader(bytes.NewReader(encoded)))
	if err != nil {
		t.Fatalf("ChunkDecode failed: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("round trip mismatch: got %q, want %q", decoded, data)
	}
}

func TestChunkRoundTrip_DecodeThenEncode(t *testing.T) {
	var src bytes.Buffer
	src.WriteString("5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n")

	decoded, err := ChunkDecode(bufio.NewReader(&src))
	if err != nil {
		t.Fatalf("ChunkDecode failed: %v", err)
	}
	if string(decoded) != "hello world" {
		t.Fatalf("unexpected decode: %q", decoded)
	}

	reencoded := ChunkEncode(decoded)
	redecoded, err := ChunkDecode(bufio.NewReader(bytes.NewReader(reencoded)))
	if err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	if string(redecoded) != "hello world" {
		t.Errorf("chunk_decode(chunk_encode(X)) != X, got %q", redecoded)
	}
}

func TestChunkReader_EmptyBody(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("0\r\n\r\n"))
	cr := NewChunkReader(br)

	buf := make([]byte, 16)
	n, err := cr.Read(buf)
	if n != 0 {
		t.Errorf("expected 0 bytes from empty body, got %d", n)
	}
	if err == nil {
		t.Errorf("expected io.EOF on empty chunked body")
	}
}

func TestChunkReader_MalformedLength(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("zzz\r\nhello\r\n0\r\n\r\n"))
	cr := NewChunkReader(br)

	buf := make([]byte, 16)
	_, err := cr.Read(buf)
	if err != ErrMalformedChunk {
		t.Errorf("expected ErrMalformedChunk, got %v", err)
	}
}

func TestChunkReader_FastPathPrefilledBuffer(t *testing.T) {
	// A body that arrives entirely in the first read: the reader must
	// not need re-entrant recursion to drain it (the re-entry guard
	// the original implementation needed for its non-blocking primitive
	// is unnecessary here; Read just blocks like any Go reader).
	var body bytes.Buffer
	for i := 0; i < 50; i++ {
		WriteChunk(&body, []byte("chunk-data"))
	}
	WriteTerminator(&body)

	decoded, err := ChunkDecode(bufio.NewReader(&body))
	if err != nil {
		t.Fatalf("ChunkDecode failed: %v", err)
	}
	if len(decoded) != 50*len("chunk-data") {
		t.Errorf("expected %d bytes, got %d", 50*len("chunk-data"), len(decoded))
	}
}

func TestPktLine_LengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	text := "# service=git-upload-pack\n"
	if err := PktLine(&buf, text); err != nil {
		t.Fatalf("PktLine failed: %v", err)
	}
	if err := PktFlush(&buf); err != nil {
		t.Fatalf("PktFlush failed: %v", err)
	}

	out := buf.String()
	wantPrefix := "001e# service=git-upload-pack\n"
	if !strings.HasPrefix(out, wantPrefix) {
		t.Errorf("expected prelude to start with %q, got %q", wantPrefix, out)
	}
	if !strings.HasSuffix(out, "0000") {
		t.Errorf("expected flush packet at end, got %q", out)
	}
}

func TestInfoRefsPrelude(t *testing.T) {
	prelude := InfoRefsPrelude("upload-pack")
	want := "001e# service=git-upload-pack\n0000"
	if string(prelude) != want {
		t.Errorf("got %q, want %q", prelude, want)
	}
}

func TestFramer_ChunkedMode(t *testing.T) {
	var buf bytes.Buffer
	f := New(&buf, "HTTP/1.1", ChunkedMode)

	headers := make(http.Header)
	headers.Set("Content-Type", "application/x-git-upload-pack-result")
	if err := f.WriteHeaders(200, headers, 0); err != nil {
		t.Fatalf("WriteHeaders failed: %v", err)
	}
	if err := f.WritePayload([]byte("0032want")); err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}
	if err := f.Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("unexpected status line: %q", out)
	}
	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Errorf("expected chunked header, got %q", out)
	}
	if strings.Contains(out, "Content-Length:") {
		t.Errorf("chunked response must not carry Content-Length, got %q", out)
	}
	if !strings.HasSuffix(out, "0\r\n\r\n") {
		t.Errorf("expected terminating zero chunk, got %q", out)
	}
}

func TestFramer_LengthPrefixedMode(t *testing.T) {
	var buf bytes.Buffer
	f := New(&buf, "HTTP/1.0", LengthPrefixedMode)

	payload := []byte("the entire drained stdout payload")
	if err := f.WriteHeaders(200, make(http.Header), len(payload)); err != nil {
		t.Fatalf("WriteHeaders failed: %v", err)
	}
	if err := f.WritePayload(payload); err != nil {
		t.Fatalf("WritePayload failed: %v", err)
	}
	if err := f.Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Content-Length: 33\r\n") {
		t.Errorf("expected Content-Length: 33, got %q", out)
	}
	if strings.Contains(out, "Transfer-Encoding:") {
		t.Errorf("length-prefixed response must not carry Transfer-Encoding, got %q", out)
	}
	if !strings.HasSuffix(out, string(payload)) {
		t.Errorf("expected payload at end of output, got %q", out)
	}
}

func TestFramer_WriteHeadersOnlyOnce(t *testing.T) {
	var buf bytes.Buffer
	f := New(&buf, "HTTP/1.1", ChunkedMode)

	if err := f.WriteHeaders(200, make(http.Header), 0); err != nil {
		t.Fatalf("first WriteHeaders failed: %v", err)
	}
	firstLen := buf.Len()

	if err := f.WriteHeaders(500, make(http.Header), 0); err != nil {
		t.Fatalf("second WriteHeaders failed: %v", err)
	}
	if buf.Len() != firstLen {
		t.Errorf("WriteHeaders must be a no-op after the first call; buffer grew from %d to %d", firstLen, buf.Len())
	}
}
