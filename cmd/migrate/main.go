package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
	pgstore "github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store/postgres"
)

func main() {
	var (
		databaseURL string
		logLevel    string
	)
	flag.StringVar(&databaseURL, "database-url", "", "Postgres URL (default: DATABASE_URL)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{Level: logLevel, Format: "console", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if databaseURL == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatal("load configuration", zap.Error(err))
		}
		databaseURL = cfg.DatabaseURL
	}
	if databaseURL == "" {
		log.Fatal("database url required: set DATABASE_URL or pass -database-url")
	}

	if err := run(databaseURL, args, log); err != nil {
		log.Fatal("migration failed", zap.String("command", args[0]), zap.Error(err))
	}
}

func run(databaseURL string, args []string, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pg, err := pgstore.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	m, err := pgstore.NewMigrator(pg.DB(), log)
	if err != nil {
		_ = pg.Close()
		return err
	}
	defer func() { _ = m.Close() }()

	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "steps":
		n, err := intArg(args, "steps <n>")
		if err != nil {
			return err
		}
		return m.Steps(n)
	case "force":
		v, err := intArg(args, "force <version>")
		if err != nil {
			return err
		}
		if err := m.Force(v); err != nil {
			return err
		}
		log.Info("version forced", zap.Int("version", v))
		return nil
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		if version == 0 {
			log.Info("no migrations applied")
			return nil
		}
		log.Info("current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func intArg(args []string, usage string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("usage: migrate %s", usage)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", args[1])
	}
	return n, nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate [flags] <command> [args]

Commands:
  up               apply all pending migrations
  down             roll back every migration
  steps <n>        apply n migrations (negative rolls back)
  version          print the current schema version
  force <version>  set the version without running migrations (clears dirty)

Flags:`)
	flag.PrintDefaults()
}
