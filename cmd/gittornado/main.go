// Command gittornado serves the git smart HTTP protocol for a directory
// of bare repositories, proxying upload-pack/receive-pack RPCs to the
// local git binary in --stateless-rpc mode.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gittornado/gittornado/pkg/auth"
	"github.com/gittornado/gittornado/pkg/engine"
	"github.com/gittornado/gittornado/pkg/gitrpc"
	"github.com/gittornado/gittornado/pkg/metrics"
	"github.com/gittornado/gittornado/pkg/repostore"
	"github.com/gittornado/gittornado/pkg/server"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	gitbase := flag.String("gitbase", ".", "Base directory where bare git directories are stored")
	accessfile := flag.String("accessfile", "", "File with access permissions")
	realm := flag.String("realm", "my git repos", "Basic auth realm")
	gitbinary := flag.String("gitbinary", "git", "Path to the git binary")
	metricsAddr := flag.String("metrics-addr", "", "Address to serve Prometheus metrics on, empty to disable")
	legacyPlaintextPolicy := flag.Bool("legacy-plaintext-policy", false, "Compare policy file passwords as plaintext instead of bcrypt hashes")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	resolver, err := repostore.NewResolver(*gitbase)
	if err != nil {
		logger.Fatal("invalid gitbase", zap.Error(err))
	}

	var policy *auth.Policy
	if *accessfile != "" {
		policy, err = auth.LoadPolicy(*accessfile, *legacyPlaintextPolicy)
		if err != nil {
			logger.Fatal("failed to load access file", zap.Error(err))
		}
	} else {
		policy, err = auth.LoadPolicy(os.DevNull, *legacyPlaintextPolicy)
		if err != nil {
			logger.Fatal("failed to initialize empty policy", zap.Error(err))
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cfg := &gitrpc.Config{
		GitBinary: *gitbinary,
		Realm:     *realm,
		Resolver:  resolver,
		Policy:    policy,
		Metrics:   m,
		Logger:    logger,
	}
	handler := gitrpc.NewHandler(cfg)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logger.Info("metrics listening", zap.String("addr", *metricsAddr))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	if *accessfile != "" {
		reloadPolicyOnSIGHUP(logger, policy, *accessfile)
	}

	eng := engine.NewEngine(handler, engine.WithLogger(logger))
	srv := server.NewServer(eng,
		server.WithReadTimeout(30*time.Second),
		server.WithWriteTimeout(0), // RPC responses may stream for as long as the child runs
		server.WithLogger(logger),
	)

	addr := ":" + strconv.Itoa(*port)
	logger.Info("gittornado starting", zap.String("addr", addr), zap.String("gitbase", resolver.Base()))
	if err := srv.Serve(addr); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// reloadPolicyOnSIGHUP installs a signal handler that reloads the policy
// file in place without restarting the listener or touching the
// Authenticate contract, per the Design Notes' reload-signal guidance.
func reloadPolicyOnSIGHUP(logger *zap.Logger, policy *auth.Policy, path string) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			if err := policy.Reload(path); err != nil {
				logger.Error("policy reload failed", zap.Error(err))
				continue
			}
			logger.Info("policy reloaded", zap.String("path", path))
		}
	}()
}
