// Package classifier parses the URL surface of the gateway: the repository
// segment and the requested git RPC name.
package classifier

import (
	"errors"
	"strings"
)

// ErrUnknownRPC is returned when an RPC path segment is neither
// git-upload-pack nor git-receive-pack.
var ErrUnknownRPC = errors.New("classifier: unknown rpc command")

const (
	UploadPack  = "git-upload-pack"
	ReceivePack = "git-receive-pack"
)

// RPCRequest is the classified form of a POST /<repo>/git-<rpc> request.
type RPCRequest struct {
	Repo string
	RPC  string
}

// ClassifyRPC strips leading/trailing slashes from path, splits on "/",
// and treats the first element as the repository segment and the last as
// the RPC name. The RPC name must be git-upload-pack or git-receive-pack.
func ClassifyRPC(path string) (RPCRequest, error) {
	segments := splitPath(path)
	if len(segments) < 2 {
		return RPCRequest{}, ErrUnknownRPC
	}

	rpc := segments[len(segments)-1]
	if rpc != UploadPack && rpc != ReceivePack {
		return RPCRequest{}, ErrUnknownRPC
	}

	return RPCRequest{Repo: segments[0], RPC: rpc}, nil
}

// InfoRefsRequest is the classified form of a GET /<repo>/info/refs request.
type InfoRefsRequest struct {
	Repo string
	RPC  string
}

// ClassifyInfoRefs splits path the same way as ClassifyRPC, taking only the
// repository segment from the path; the RPC name instead comes from the
// "service" query parameter, defaulting to git-upload-pack when absent.
func ClassifyInfoRefs(path, service string) (InfoRefsRequest, error) {
	segments := splitPath(path)
	if len(segments) < 1 {
		return InfoRefsRequest{}, ErrUnknownRPC
	}

	rpc := service
	if rpc == "" {
		rpc = UploadPack
	}
	if rpc != UploadPack && rpc != ReceivePack {
		return InfoRefsRequest{}, ErrUnknownRPC
	}

	return InfoRefsRequest{Repo: segments[0], RPC: rpc}, nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
