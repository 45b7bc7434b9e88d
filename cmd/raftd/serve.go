package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/raftkv/pkg/kvstore"
	"github.com/cuemby/raftkv/pkg/log"
	"github.com/cuemby/raftkv/pkg/metrics"
	"github.com/cuemby/raftkv/pkg/raft"
	"github.com/cuemby/raftkv/pkg/raftconfig"
	"github.com/cuemby/raftkv/pkg/transport"
	"google.golang.org/grpc"
)

// startServer builds a raft.Server from cfg, wires the serving
// infrastructure (gRPC listener, optional read-only local listener,
// metrics/health HTTP endpoints), then calls start (Bootstrap or Join)
// before unblocking callers waiting on the server's background loop. It
// blocks until SIGINT/SIGTERM or a listener error, then stops the
// listeners in the order they were started; deferred calls then stop the
// background loop, the metrics collector, the server and the gRPC client.
func startServer(cfg raftconfig.Config, start func(*raft.Server)) error {
	nodeLog := log.WithNodeID(cfg.NodeID)

	grpcClient := transport.NewGRPCClient(cfg.ElectionTimeout)
	defer grpcClient.Close()

	server, err := raft.New(raft.Config{
		Raft:      cfg,
		Transport: grpcClient,
		Machine:   kvstore.New(),
		Logger:    nodeLog,
	})
	if err != nil {
		return fmt.Errorf("raftd: construct server: %w", err)
	}
	defer server.Close()

	peerListener, err := net.Listen("tcp", cfg.ServerAddress)
	if err != nil {
		return fmt.Errorf("raftd: listen on %s: %w", cfg.ServerAddress, err)
	}
	peerServer := grpc.NewServer()
	transport.Serve(peerServer, server)

	errCh := make(chan error, 4)
	go func() {
		if err := peerServer.Serve(peerListener); err != nil {
			errCh <- fmt.Errorf("peer listener: %w", err)
		}
	}()
	nodeLog.Info().Str("addr", cfg.ServerAddress).Msg("peer listener started")

	var clientServer *grpc.Server
	if cfg.ClientAddress != cfg.ServerAddress {
		clientListener, err := net.Listen("tcp", cfg.ClientAddress)
		if err != nil {
			return fmt.Errorf("raftd: listen on %s: %w", cfg.ClientAddress, err)
		}
		clientServer = grpc.NewServer()
		transport.Serve(clientServer, server)
		go func() {
			if err := clientServer.Serve(clientListener); err != nil {
				errCh <- fmt.Errorf("client listener: %w", err)
			}
		}()
		nodeLog.Info().Str("addr", cfg.ClientAddress).Msg("client listener started")
	}

	var localServer *grpc.Server
	if cfg.LocalAddress != "" {
		localListener, err := net.Listen("tcp", cfg.LocalAddress)
		if err != nil {
			return fmt.Errorf("raftd: listen on %s: %w", cfg.LocalAddress, err)
		}
		localServer = grpc.NewServer(grpc.UnaryInterceptor(transport.ReadOnlyInterceptor()))
		transport.Serve(localServer, server)
		go func() {
			if err := localServer.Serve(localListener); err != nil {
				errCh <- fmt.Errorf("local listener: %w", err)
			}
		}()
		nodeLog.Info().Str("addr", cfg.LocalAddress).Msg("read-only local listener started")
	}

	collector := metrics.NewCollector(server)
	collector.Start()
	defer collector.Stop()

	metrics.RegisterComponent("raft", true, "running")
	metrics.RegisterComponent("storage", true, "running")
	metrics.RegisterComponent("transport", true, "running")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/status", metrics.StatusHandler(cfg.NodeID, server))
	if cfg.PprofEnabled {
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
	}
	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()
	nodeLog.Info().Str("addr", cfg.MetricsAddress).Msg("metrics/health listener started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	start(server)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		nodeLog.Info().Msg("shutdown signal received")
	case err := <-errCh:
		nodeLog.Error().Err(err).Msg("listener error, shutting down")
	}

	peerServer.GracefulStop()
	if clientServer != nil {
		clientServer.GracefulStop()
	}
	if localServer != nil {
		localServer.GracefulStop()
	}
	_ = metricsServer.Close()
	return nil
}
