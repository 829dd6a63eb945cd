package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	pprofhttp "net/http/pprof"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sentinel/internal/config"
)

const (
	serverShutdownTimeout = 3 * time.Second
	serverReadHeaderTO    = 2 * time.Second
)

// startPprofServer starts optional pprof HTTP endpoint and wires graceful shutdown.
// Params: ctx controls lifecycle; cfg provides enabled/listen options; logger reports runtime events.
// Returns: stop function (idempotent) and startup error.
func startPprofServer(ctx context.Context, cfg config.PprofConfig, logger *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprofhttp.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprofhttp.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprofhttp.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprofhttp.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprofhttp.Trace)

	return serveHTTP(ctx, "pprof", cfg.Listen, mux, serverShutdownTimeout, logger)
}

// serveHTTP binds listen synchronously and serves handler until ctx is done.
// Params: ctx controls lifecycle; name for logs; listen address; handler routes; grace shutdown bound; logger.
// Returns: stop function (idempotent) and bind error.
func serveHTTP(
	ctx context.Context,
	name, listen string,
	handler http.Handler,
	grace time.Duration,
	logger *slog.Logger,
) (func(), error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}

	server := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: serverReadHeaderTO,
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn(name+" shutdown error", slog.String("error", err.Error()))
				_ = server.Close()
			}
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(name+" server failed", slog.String("addr", listen), slog.String("error", err.Error()))
		}
	}()

	logger.Info(name+" server started", slog.String("addr", listener.Addr().String()))
	return stop, nil
}

// serveGRPCHealth exposes the standard grpc_health_v1 service.
// Params: ctx controls lifecycle; listen address; healthServer shared status table; grace stop bound; logger.
// Returns: stop function (idempotent) and bind error.
func serveGRPCHealth(
	ctx context.Context,
	listen string,
	healthServer *health.Server,
	grace time.Duration,
	logger *slog.Logger,
) (func(), error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			healthServer.Shutdown()
			stopped := make(chan struct{})
			go func() {
				server.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(grace):
				server.Stop()
			}
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc server failed", slog.String("addr", listen), slog.String("error", err.Error()))
		}
	}()

	logger.Info("grpc health server started", slog.String("addr", listener.Addr().String()))
	return stop, nil
}
