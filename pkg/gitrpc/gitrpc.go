// Package gitrpc orchestrates the Request Classifier, Repository
// Resolver, and Authenticator (C2-C4) and launches the process bridge
// (C1) for the RPC and info/refs handlers (C5/C6).
package gitrpc

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/gittornado/gittornado/pkg/auth"
	"github.com/gittornado/gittornado/pkg/bridge"
	"github.com/gittornado/gittornado/pkg/classifier"
	"github.com/gittornado/gittornado/pkg/framer"
	"github.com/gittornado/gittornado/pkg/metrics"
	"github.com/gittornado/gittornado/pkg/repostore"
)

// Config carries the resolved collaborators and process-global options a
// Handler needs, passed explicitly rather than via package globals.
type Config struct {
	GitBinary string
	Realm     string
	Resolver  *repostore.Resolver
	Policy    *auth.Policy
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Handler implements the RPC (C5) and info/refs (C6) handlers behind a
// single http.Handler.
type Handler struct {
	cfg *Config
}

// NewHandler builds a Handler from cfg, filling in defaults for an empty
// GitBinary and a nil Logger. A nil Metrics is left nil and disables
// instrumentation.
func NewHandler(cfg *Config) *Handler {
	if cfg.GitBinary == "" {
		cfg.GitBinary = "git"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Handler{cfg: cfg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/info/refs"):
		h.serveInfoRefs(w, r)
	case r.Method == http.MethodPost:
		h.serveRPC(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveRPC(w http.ResponseWriter, r *http.Request) {
	req, err := classifier.ClassifyRPC(r.URL.Path)
	if err != nil {
		http.Error(w, "Unknown RPC command", http.StatusBadRequest)
		return
	}
	h.serve(w, r, req.Repo, req.RPC, false)
}

func (h *Handler) serveInfoRefs(w http.ResponseWriter, r *http.Request) {
	req, err := classifier.ClassifyInfoRefs(r.URL.Path, r.URL.Query().Get("service"))
	if err != nil {
		http.Error(w, "Unknown RPC command", http.StatusBadRequest)
		return
	}
	h.serve(w, r, req.Repo, req.RPC, true)
}

// serve runs C3 (repo resolution) and C4 (auth) and, on success, hijacks
// the connection to hand it to a Bridge. The bridge is never started on
// any routing or permission error.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, repoSegment, rpc string, advertise bool) {
	dir, err := h.cfg.Resolver.Resolve(repoSegment)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	perms := h.cfg.Policy.Authenticate(r.Header.Get("Authorization"), repoSegment)
	allowed := perms.MayRead
	if rpc == classifier.ReceivePack {
		allowed = perms.MayWrite
	}
	if !allowed {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, h.cfg.Realm))
		http.Error(w, "Authorization needed to access this repository", http.StatusUnauthorized)
		return
	}

	sub := strings.TrimPrefix(rpc, "git-")
	argv := []string{h.cfg.GitBinary, sub, "--stateless-rpc"}
	if advertise {
		argv = append(argv, "--advertise-refs")
	}
	argv = append(argv, dir)

	successHeaders := make(http.Header)
	var prelude []byte
	if advertise {
		successHeaders.Set("Content-Type", fmt.Sprintf("application/x-git-%s-advertisement", sub))
		successHeaders.Set("Expires", "Fri, 01 Jan 1980 00:00:00 GMT")
		successHeaders.Set("Pragma", "no-cache")
		successHeaders.Set("Cache-Control", "no-cache, max-age=0, must-revalidate")
		prelude = framer.InfoRefsPrelude(sub)
	} else {
		successHeaders.Set("Content-Type", fmt.Sprintf("application/x-git-%s-result", sub))
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hijacker.Hijack()
	if err != nil {
		h.cfg.Logger.Error("hijack failed", zap.Error(err))
		return
	}

	b := &bridge.Bridge{
		Conn:           conn,
		RW:             bufrw,
		Req:            r,
		Argv:           argv,
		SuccessHeaders: successHeaders,
		Prelude:        prelude,
		Logger:         h.cfg.Logger,
		Metrics:        h.cfg.Metrics,
		RPCLabel:       rpc,
	}

	if err := b.Run(); err != nil {
		h.cfg.Logger.Warn("bridge run failed", zap.Error(err), zap.String("repo", repoSegment), zap.String("rpc", rpc))
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.RequestsTotal.WithLabelValues(rpc, "handled").Inc()
	}
}
