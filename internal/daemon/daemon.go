// Package daemon holds the pool daemon's bootstrap sequence: load config,
// init logging/tracing/metrics, construct the Pool and RPC Server, serve
// /metrics and /healthz, and block until a shutdown signal arrives. It is
// shared by cmd/gitpoold (the daemon's own entrypoint) and cmd/gitpoolctl's
// "serve" subcommand, so both binaries run the identical daemon.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/gitpool/internal/config"
	"github.com/oriys/gitpool/internal/gitpool"
	"github.com/oriys/gitpool/internal/logging"
	"github.com/oriys/gitpool/internal/metrics"
	"github.com/oriys/gitpool/internal/observability"
	"github.com/oriys/gitpool/internal/rpc"
)

// Options carries the flag/config overrides a caller (either cmd/gitpoold
// or cmd/gitpoolctl) wants applied on top of the loaded Config.
type Options struct {
	ConfigFile string
	RPCAddr    string
	HTTPAddr   string
	RootDir    string
	LogLevel   string

	// Changed reports whether the named flag was explicitly set by the
	// caller's own flag parsing, so an unset Options field doesn't
	// clobber a value already loaded from file/env.
	Changed func(flag string) bool
}

func (o Options) changed(flag string) bool {
	if o.Changed == nil {
		return false
	}
	return o.Changed(flag)
}

// Run loads configuration, brings up the Pool/RPC/HTTP surfaces, and
// blocks until SIGINT or SIGTERM, then shuts everything down gracefully.
func Run(opts Options) error {
	cfg := config.DefaultConfig()
	if opts.ConfigFile != "" {
		var err error
		cfg, err = config.LoadFromFile(opts.ConfigFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if opts.changed("rpc-addr") {
		cfg.RPC.Addr = opts.RPCAddr
	}
	if opts.changed("http-addr") {
		cfg.Daemon.HTTPAddr = opts.HTTPAddr
	}
	if opts.changed("root-dir") {
		cfg.Pool.RootDir = opts.RootDir
	}
	if opts.changed("log-level") {
		cfg.Daemon.LogLevel = opts.LogLevel
	}

	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
	logging.SetLevelFromString(cfg.Daemon.LogLevel)

	if err := observability.Init(context.Background(), observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}

	var poolOpts []gitpool.Option
	if cfg.Pool.RootDir != "" {
		poolOpts = append(poolOpts, gitpool.WithRootDir(cfg.Pool.RootDir))
	}
	pool, err := gitpool.New(poolOpts...)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	logging.Op().Info("pool root created", "path", pool.Root())

	server := rpc.NewServer(pool)
	if err := server.Start(cfg.RPC.Addr); err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}
	logging.Op().Info("gitpoold rpc server started", "addr", cfg.RPC.Addr)

	httpServer := startObservabilityHTTP(cfg.Daemon.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Op().Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	if err := server.Stop(); err != nil {
		logging.Op().Warn("error stopping rpc server", "error", err)
	}
	if err := pool.Shutdown(); err != nil {
		logging.Op().Warn("error shutting down pool", "error", err)
	}
	return nil
}

// startObservabilityHTTP serves /metrics and /healthz on a listener
// distinct from the RPC TCP listener, traced the same way as any other
// HTTP surface in this codebase.
func startObservabilityHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PrometheusHandler())
	mux.Handle("/metrics.json", metrics.Global().JSONHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: observability.HTTPMiddleware(mux)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("observability http server error", "error", err)
		}
	}()
	logging.Op().Info("observability http server started", "addr", addr)
	return srv
}
