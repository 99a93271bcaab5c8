package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/permit/pkg/config"
	"github.com/platinummonkey/permit/pkg/observability"
	"github.com/platinummonkey/permit/pkg/storage"
)

// permit-admin runs one-off maintenance tasks against the permitd database.
// It reads the same PERMIT_* environment as permitd.
func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		usage()
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg.Observability.LogLevel.String())

	cmd, ok := commands[os.Args[1]]
	if !ok {
		logger.Fatalf("Unknown command: %s", os.Args[1])
	}

	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.Database.Config)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	env, err := newAdminEnv(cfg, db, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	if err := cmd.run(ctx, env, os.Args[2:]); err != nil {
		logger.WithError(err).Errorf("%s failed", os.Args[1])
		db.Close()
		os.Exit(1)
	}
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Usage: permit-admin <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, commands[name].description)
	}
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// adminEnv carries what every command needs
type adminEnv struct {
	cfg     *config.Config
	db      *sql.DB
	dialect storage.Dialect
	log     *logrus.Logger
	// engine is handed to the rbac and audit packages, which log through
	// observability
	engine *observability.Logger
}

func newAdminEnv(cfg *config.Config, db *sql.DB, logger *logrus.Logger) (*adminEnv, error) {
	dialect, err := cfg.Database.Dialect()
	if err != nil {
		return nil, err
	}
	return &adminEnv{
		cfg:     cfg,
		db:      db,
		dialect: dialect,
		log:     logger,
		engine:  observability.NewLogger(cfg.Observability.LogLevel, os.Stderr),
	}, nil
}
