package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/BaSui01/reportflow/config"
	"github.com/BaSui01/reportflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// migrateCommand 一个迁移子命令
type migrateCommand struct {
	// positional 子命令需要的位置参数个数（goto/force/steps 为 1）
	positional int
	run        func(ctx context.Context, cli *migration.CLI, pos []string, down downFlags) error
}

type downFlags struct {
	all bool
}

var migrateCommands = map[string]migrateCommand{
	"up": {run: func(ctx context.Context, cli *migration.CLI, _ []string, _ downFlags) error {
		return cli.Up(ctx)
	}},
	"down": {run: func(ctx context.Context, cli *migration.CLI, _ []string, d downFlags) error {
		return cli.Down(ctx, d.all)
	}},
	"reset": {run: func(ctx context.Context, cli *migration.CLI, _ []string, _ downFlags) error {
		return cli.Down(ctx, true)
	}},
	"status": {run: func(ctx context.Context, cli *migration.CLI, _ []string, _ downFlags) error {
		return cli.Status(ctx)
	}},
	"version": {run: func(_ context.Context, cli *migration.CLI, _ []string, _ downFlags) error {
		return cli.Version()
	}},
	"verify": {run: func(ctx context.Context, cli *migration.CLI, _ []string, _ downFlags) error {
		return cli.Verify(ctx)
	}},
	"steps": {positional: 1, run: func(ctx context.Context, cli *migration.CLI, pos []string, _ downFlags) error {
		n, err := strconv.Atoi(pos[0])
		if err != nil || n == 0 {
			return fmt.Errorf("invalid step count: %s", pos[0])
		}
		return cli.Steps(ctx, n)
	}},
	"goto": {positional: 1, run: func(ctx context.Context, cli *migration.CLI, pos []string, _ downFlags) error {
		version, err := strconv.ParseUint(pos[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", pos[0])
		}
		return cli.Goto(ctx, uint(version))
	}},
	"force": {positional: 1, run: func(_ context.Context, cli *migration.CLI, pos []string, _ downFlags) error {
		version, err := strconv.ParseInt(pos[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", pos[0])
		}
		return cli.Force(int(version))
	}},
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		printMigrateUsage()
		return
	}

	cmd, ok := migrateCommands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", name)
		printMigrateUsage()
		os.Exit(1)
	}

	rest := args[1:]
	if len(rest) < cmd.positional {
		fmt.Fprintf(os.Stderr, "Usage: reportflow migrate %s <value> [options]\n", name)
		os.Exit(1)
	}
	pos, rest := rest[:cmd.positional], rest[cmd.positional:]

	fs := flag.NewFlagSet("migrate "+name, flag.ExitOnError)
	var down downFlags
	if name == "down" {
		fs.BoolVar(&down.all, "all", false, "Rollback all migrations")
	}
	migrator, err := createMigrator(fs, rest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	// Ctrl-C 在当前迁移文件执行完后停止
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runErr := cmd.run(ctx, migration.NewCLI(migrator), pos, down)
	stop()
	if err := migrator.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close migrator: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", name, runErr)
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  reportflow migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration (--all to rollback everything)
  steps <n>   Apply n migrations (negative n rolls back)
  status      Show applied/pending migrations and missing tables
  version     Show current migration version
  verify      Check that every workflow table exists
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  reset       Rollback all migrations
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  reportflow migrate up
  reportflow migrate up --config /etc/reportflow/config.yaml
  reportflow migrate down --all
  reportflow migrate steps -1
  reportflow migrate goto 1
  reportflow migrate verify --db-type sqlite --db-url ./reportflow.db`)
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.Migrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// If db-type and db-url are provided, use them directly
	if *dbType != "" && *dbURL != "" {
		d, err := migration.ParseDialect(*dbType)
		if err != nil {
			return nil, err
		}
		return migration.Open(d, *dbURL)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	return migration.OpenConfig(cfg.Database)
}
