// Command server runs the broadcast relay and config reporter.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/devrelay/internal/config"
	"github.com/Tyrowin/devrelay/internal/logging"
	"github.com/Tyrowin/devrelay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	envErr := godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		logging.New(config.Default().Logging, "dev").Error("invalid configuration", "error", err)
		return 1
	}

	logger := logging.New(cfg.Logging, cfg.Version)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("could not load .env file", "error", envErr)
	}
	if ignored := cfg.Origins().Ignored; len(ignored) > 0 {
		logger.Warn("ignoring invalid allowed origins", "origins", ignored)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		return 1
	}

	if err := srv.Start(); err != nil {
		var bindErr *server.BindError
		if errors.As(err, &bindErr) {
			logger.Error("cannot bind listener", "addr", bindErr.Addr, "error", bindErr.Err)
		} else {
			logger.Error("failed to start server", "error", err)
		}
		return 1
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case sig := <-quit:
		logger.Info("received signal", "signal", sig.String())
	case err := <-srv.Err():
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
			code = 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		code = 1
	}
	return code
}
