package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/flashsync/internal/controller"
	"github.com/dreamware/flashsync/internal/rpc"
)

func main() {
	cfg, err := loadConfig(os.Getenv("FLASHSYNC_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}
	var httpLis net.Listener
	if cfg.HTTPAddr != "" {
		httpLis, err = net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			logger.Fatal("listen http", zap.String("addr", cfg.HTTPAddr), zap.Error(err))
		}
	}

	if err := serve(ctx, cfg, grpcLis, httpLis, logger); err != nil {
		logger.Fatal("controller failed", zap.Error(err))
	}
	logger.Info("controller stopped")
}

// serve runs the controller on the given listeners until ctx is done or a
// server fails. httpLis may be nil.
func serve(ctx context.Context, cfg config, grpcLis, httpLis net.Listener, logger *zap.Logger) error {
	registry := controller.NewRegistry()
	ctrl := controller.New(registry, cfg.MaxInFlight, logger)

	watchdog := controller.NewWatchdog(registry, cfg.WatchInterval, cfg.StallThreshold, logger)
	watchdog.SetOnStalled(func(s controller.Stall) {
		logger.Warn("callers stalled",
			zap.String("group", s.Group),
			zap.String("kind", string(s.Kind)),
			zap.Uint64("key", s.Key),
			zap.Int("waiting", s.Waiting),
			zap.Duration("age", s.Age))
	})
	go watchdog.Start(ctx)
	defer watchdog.Stop()

	errc := make(chan error, 2)

	grpcSrv := rpc.NewServer(ctrl, logger)
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			errc <- fmt.Errorf("serve grpc: %w", err)
		}
	}()

	var httpSrv *http.Server
	if httpLis != nil {
		httpSrv = &http.Server{
			Handler:           newServer(ctrl, watchdog, logger).routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http listening", zap.String("addr", httpLis.Addr().String()))
			if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("serve http: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	// Blocked rendezvous calls never finish on their own, so gRPC is stopped
	// hard rather than drained.
	grpcSrv.Stop()
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("http shutdown", zap.Error(serr))
			_ = httpSrv.Close()
		}
	}
	return err
}
