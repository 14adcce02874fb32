package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storefront-fulfillment/internal/auth"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/config"
	"storefront-fulfillment/internal/server"
)

const version = "1.0.0"

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	var (
		issueToken string
		tokenTTL   time.Duration
	)
	flag.StringVar(&issueToken, "issue-token", "", "Print an operator token for the named operator and exit")
	flag.DurationVar(&tokenTTL, "token-ttl", auth.DefaultTokenTTL, "Lifetime of tokens printed by -issue-token")
	flag.Parse()

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	if issueToken != "" {
		return printOperatorToken(cfg, issueToken, tokenTTL)
	}

	logging.Info("Starting storefront fulfillment",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
		logging.Field{Key: "version", Value: version},
		logging.Field{Key: "dispatch", Value: cfg.FulfillmentDispatch},
	)

	ctx := context.Background()
	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv := server.New(app.Handler(), cfg.Port, "", "", app.Logger)
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}
	app.Sweeper.Start()

	// Wait for interrupt signal or a fatal serve error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	var serveErr error
	select {
	case <-quit:
	case serveErr = <-srv.Errors():
		logging.Error("Server stopped unexpectedly", serveErr)
	}

	logging.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop taking requests before draining background fulfillment
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Error during app shutdown", logging.Field{Key: "error", Value: err.Error()})
	}

	logging.Info("Server exited")
	return serveErr
}

func printOperatorToken(cfg *config.Config, operator string, ttl time.Duration) error {
	a, err := auth.New(cfg.AdminJWTSecret, nil, logging.GetGlobalLogger())
	if err != nil {
		return err
	}
	token, err := a.GenerateJWT(operator, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
