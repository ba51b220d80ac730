// Command broker serves rigid-body replay recording and validation over HTTP, WebSocket and gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"rigidsync/broker/internal/config"
	"rigidsync/broker/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("broker stopped with error", logging.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or a listener fails, then shuts everything down.
func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	broker, err := NewBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Warn("broker close failed", logging.Error(err))
		}
	}()

	grpcServer, err := broker.GRPCServer()
	if err != nil {
		return fmt.Errorf("grpc server: %w", err)
	}
	httpListener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpServer := &http.Server{
		Handler:           broker.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(3)
	go func() {
		defer wg.Done()
		broker.RunRetention(ctx, retentionInterval)
	}()
	go func() {
		defer wg.Done()
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := grpcServer.Serve(grpcListener); err != nil {
			errs <- fmt.Errorf("grpc: %w", err)
		}
	}()

	logger.Info("broker listening",
		logging.String("http", listenerURL("http", cfg.Address, "")),
		logging.String("feed", listenerURL("ws", cfg.Address, "/ws")),
		logging.String("grpc", dialAddress(cfg.GRPCAddress)),
		logging.String("backend", cfg.Simulation.Backend),
		logging.String("profile", cfg.Simulation.TuningProfile),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serveErr = <-errs:
		broker.SetStartupError(serveErr)
	}
	cancel()

	//1.- Drain HTTP first so in-flight validations finish before the gRPC side stops.
	shutdownCtx, release := context.WithTimeout(context.Background(), shutdownTimeout)
	defer release()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	wg.Wait()
	return serveErr
}
