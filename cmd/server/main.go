package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/lanchat/internal/history"
	"github.com/Tyrowin/lanchat/internal/room"
	"github.com/Tyrowin/lanchat/internal/server"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := server.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing history store...")
		if err := store.Close(); err != nil {
			log.Error("History store close failed", "error", err)
		}
	}()

	registry := room.NewRegistry(cfg.RoomNames())
	manager, err := server.NewManager(cfg, registry, store, log)
	if err != nil {
		return fmt.Errorf("manager setup failed: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s (is another server running?): %w", cfg.Addr, err)
	}

	if err := manager.Listen(listener); err != nil {
		return fmt.Errorf("listener registration failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Serve(gctx, listener)
	})

	if cfg.HTTPAddr != "" {
		httpServer := server.CreateServer(cfg.HTTPAddr, server.SetupRoutes(manager))
		g.Go(func() error {
			log.Info("WebSocket gateway listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http gateway: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log)
		})
	}

	log.Info("Chat server started", "rooms", registry.Rooms(), "max_connections", cfg.MaxConnections)

	<-gctx.Done()
	log.Info("Shutdown signal received")
	if err := manager.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("Chat server shutdown incomplete", "error", err)
	}

	return g.Wait()
}

func openStore(cfg server.Config, log *slog.Logger) (history.Store, error) {
	if cfg.HistoryPath == "" {
		log.Info("Using in-memory history", "retain", cfg.HistoryLimit)
		return history.NewMemoryStore(cfg.HistoryLimit), nil
	}
	store, err := history.OpenBadgerStore(cfg.HistoryPath, log)
	if err != nil {
		return nil, fmt.Errorf("history store opening failed: %w", err)
	}
	log.Info("Using badger history", "path", cfg.HistoryPath)
	return store, nil
}
