package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"insights/internal"
	"insights/internal/env"
	"insights/internal/logger"

	"github.com/gofiber/fiber/v3"
)

func main() {
	deployment := flag.String("deployment", "", "deployment profile (dev|test|prod)")
	portFlag := flag.String("port", "", "port to listen on")
	envRoot := flag.String("env-root", "", "directory containing environment files")
	appVersion := flag.String("app-version", "", "application version override")

	flag.Parse()

	port := strings.TrimSpace(*portFlag)
	if port == "" {
		fmt.Println("Usage: server --port <port> [--deployment <type>] [--env-root <dir>] [--app-version <version>]")
		os.Exit(1)
	}

	cfg, err := env.Load(*envRoot)
	if err != nil {
		log.Fatal(err)
	}
	if deploy := strings.TrimSpace(*deployment); deploy != "" {
		cfg.Deployment = deploy
	}
	if v := strings.TrimSpace(*appVersion); v != "" {
		cfg.Version = v
	}

	logFile, err := logger.Setup(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := internal.Setup(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	app := internal.SetupApp(deps)

	slog.Info("starting insights",
		"version", cfg.Version,
		"deployment", cfg.Deployment,
		"port", port,
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	if err := app.Listen(fmt.Sprintf(":%s", port), fiber.ListenConfig{
		DisableStartupMessage: cfg.IsProduction(),
	}); err != nil {
		log.Fatalf("Error listening on port %s: %v", port, err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := deps.Close(closeCtx); err != nil {
		slog.Error("failed to release resources", "error", err)
	}
}
