package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/loanadmin/pkg/audit"
	"github.com/platinummonkey/loanadmin/pkg/cli"
	"github.com/platinummonkey/loanadmin/pkg/config"
	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/platinummonkey/loanadmin/pkg/storage/postgres"
)

var envFile = flag.String("env-file", "", "Optional env file loaded before reading configuration")

func main() {
	flag.Parse()

	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "loanadmin-seed: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return cli.NewRootCommand(&cli.Env{}).Execute(context.Background(), args)
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		return err
	}

	// stdout carries command output such as issued tokens
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := postgres.NewConnectionManager(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	env := &cli.Env{
		DB:     conn.DB(),
		Cache:  cfg.Cache,
		Audit:  audit.NewLogrusLogger(logger.FieldLogger().WithField("stream", "audit")),
		Logger: logger,
		Out:    os.Stdout,
	}

	if cfg.Redis.URL != "" {
		redisClient, err := postgres.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		env.Redis = redisClient
	}

	if cfg.Audit.DBEnabled {
		dbLogger, err := audit.NewDBLogger(ctx, env.DB, nil)
		if err != nil {
			return fmt.Errorf("failed to create audit DB logger: %w", err)
		}
		env.Audit = audit.NewMultiLogger(env.Audit, dbLogger)
	}
	defer env.Audit.Close()

	return cli.NewRootCommand(env).Execute(ctx, args)
}
