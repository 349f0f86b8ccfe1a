package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/addrspace"
	"github.com/KevinKickass/OpenMachineSim/internal/auth"
	"github.com/KevinKickass/OpenMachineSim/internal/config"
	"github.com/KevinKickass/OpenMachineSim/internal/system"
	"go.uber.org/zap"
)

const (
	exitFailure = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.yaml", "path to the server configuration (yaml or json)")
	issueRole := flag.String("issue-token", "", "print a bearer token for the given role (viewer, operator, admin) and exit")
	tokenName := flag.String("token-name", "cli", "client name embedded in an issued token")
	flag.Parse()

	// Logger initialisieren
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Config laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration rejected", zap.String("config", *configPath), zap.Error(err))
		return exitConfig
	}

	if cfg.Logging.Development {
		dev, err := zap.NewDevelopment()
		if err != nil {
			logger.Error("Failed to create development logger", zap.Error(err))
			return exitFailure
		}
		logger = dev
		defer logger.Sync()
	}

	if *issueRole != "" {
		token, err := auth.NewService(cfg.Auth, logger).IssueToken(*tokenName, *issueRole)
		if err != nil {
			logger.Error("Failed to issue token", zap.Error(err))
			return exitFailure
		}
		fmt.Println(token)
		return 0
	}

	logger.Info("Config loaded successfully", zap.String("config", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Lifecycle Manager
	lifecycle := system.NewLifecycleManager(cfg, logger)

	// System starten
	// Components run on their own context so Shutdown controls the stop order.
	if err := lifecycle.Start(context.Background()); err != nil {
		var cfgErr *addrspace.ConfigError
		if errors.As(err, &cfgErr) {
			fields := make([]zap.Field, 0, len(cfgErr.Issues))
			for i, issue := range cfgErr.Issues {
				fields = append(fields, zap.NamedError(fmt.Sprintf("issue_%d", i+1), issue))
			}
			logger.Error("configuration rejected", fields...)
			return exitConfig
		}
		if errors.Is(err, system.ErrConfiguration) {
			logger.Error("configuration rejected", zap.Error(err))
			return exitConfig
		}
		logger.Error("Failed to start system", zap.Error(err))
		return exitFailure
	}

	logger.Info("OpenMachineSim started successfully")

	// Graceful Shutdown auf Signal oder API-Aufruf
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return exitFailure
	}

	logger.Info("OpenMachineSim stopped successfully")
	return 0
}
