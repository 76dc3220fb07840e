// Package framer implements the wire framing used on both sides of the
// process bridge: HTTP/1.1 chunked transfer encoding and the git pkt-line
// format used for the info/refs advertisement prelude.
package framer

import (
	"fmt"
	"io"
)

// PktLine writes s as a pkt-line: four hex digits giving the total length
// (including the four length bytes themselves), followed by s verbatim.
func PktLine(w io.Writer, s string) error {
	_, err := fmt.Fprintf(w, "%04x%s", len(s)+4, s)
	return err
}

// PktFlush writes the flush-pkt "0000".
func PktFlush(w io.Writer) error {
	_, err := io.WriteString(w, "0000")
	return err
}

// InfoRefsPrelude builds the "# service=git-<rpc>" pkt-line followed by a
// flush packet, the prelude the info/refs advertisement emits ahead of the
// child's own pkt-line ref listing.
func InfoRefsPrelude(rpc string) []byte {
	text := fmt.Sprintf("# service=git-%s\n", rpc)
	buf := make([]byte, 0, len(text)+8)
	buf = fmt.Appendf(buf, "%04x%s", len(text)+4, text)
	buf = append(buf, "0000"...)
	return buf
}
