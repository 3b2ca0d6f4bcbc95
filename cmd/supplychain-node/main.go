package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/app"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/config"
	"github.com/saiki-69420/Supply-Chain-Management-System-in-Blockchain/internal/logging"
)

func main() {
	configPath := flag.String("config", "configs/node.yaml", "path to node config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewJSONLogger(cfg.Logging.Level)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("supply chain node listening",
			slog.String("addr", cfg.Server.Listen),
			slog.String("node_id", application.Node.MinerID),
			slog.String("run_id", application.Node.RunID),
		)
		if err := application.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return application.Node.Service.RunAutoMine(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
		defer cancelShutdown()
		return application.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if cerr := application.Close(); cerr != nil {
		logger.Error("close block sinks", slog.String("error", cerr.Error()))
	}
	if err != nil {
		logger.Error("node stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
