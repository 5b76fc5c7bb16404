package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/parishworks/hookgate/internal/audit"
	"github.com/parishworks/hookgate/internal/config"
	"github.com/parishworks/hookgate/internal/dispatch"
	"github.com/parishworks/hookgate/internal/log"
	"github.com/parishworks/hookgate/internal/metrics"
	"github.com/parishworks/hookgate/internal/receiver"
	"github.com/parishworks/hookgate/internal/storage"
	"github.com/parishworks/hookgate/internal/verify"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "purge":
		os.Exit(runPurge(args))
	case "version":
		fmt.Printf("hookgate version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`hookgate - webhook ingestion gateway

Usage:
  hookgate <command> [flags]

Commands:
  serve     Start the webhook receiver in foreground
  purge     Delete audit records past their retention window
  version   Show version information
  help      Show this help message

Flags:
  --config  Path to config.yaml (default "config.yaml")
`)
}

func loadConfig(args []string, name string) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Optional .env for local development; secrets reach the config file
	// through ${VAR} expansion.
	_ = godotenv.Load()

	return config.Load(*configPath)
}

func runServe(args []string) int {
	cfg, err := loadConfig(args, "serve")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithComponent("hookgate")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.Audit.Path)
	if err != nil {
		logger.Error("failed to open audit store", "error", err)
		return 1
	}
	defer db.Close()

	clock := clockwork.NewRealClock()
	store := audit.New(db, cfg.Audit, clock, log.WithComponent("audit"))
	verifier := verify.New(cfg.Sources, clock)
	dispatcher := dispatch.New(cfg.Dispatch, log.WithComponent("dispatch"))
	m := metrics.New()

	server := receiver.New(cfg, verifier, store, dispatcher, m, log.WithComponent("receiver"))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", "error", err)
		return 1
	}

	logger.Info("shutdown complete")
	return 0
}

func runPurge(args []string) int {
	cfg, err := loadConfig(args, "purge")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log.Setup(cfg.LogLevel)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Audit.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	store := audit.New(db, cfg.Audit, clockwork.NewRealClock(), log.WithComponent("audit"))
	n, err := store.PurgeExpired(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Purged %d expired audit record(s)\n", n)
	return 0
}
