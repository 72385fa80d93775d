package main

import (
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/returns/internal/config"
	"github.com/liamcoop/returns/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	var databaseURL string
	var migrationsPath string
	var command string

	flag.StringVar(&databaseURL, "database", cfg.DatabaseURL, "Database URL (defaults to DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", cfg.MigrationsPath, "Path to migrations directory (defaults to MIGRATIONS_PATH)")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	if databaseURL == "" {
		logger.Fatal("database URL is required, use -database or DATABASE_URL")
	}

	logger.Info("connecting to database", "migrations_path", migrationsPath)
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		logger.Fatal("failed to create migration instance", "error", err)
	}
	defer m.Close()

	if err := run(m, command, flag.Args()); err != nil {
		logger.Fatal("migration failed", "command", command, "error", err)
	}
}

func run(m *migrate.Migrate, command string, args []string) error {
	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to run, database is up to date")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("migrations completed")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		logger.Info("rollback completed")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		logger.Info("current version", "version", version, "dirty", dirty)

	case "force":
		version, err := forceVersion(args)
		if err != nil {
			return err
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
		logger.Info("forced version", "version", version)

	default:
		return fmt.Errorf("unknown command %q (use: up, down, version, force)", command)
	}
	return nil
}

// forceVersion reads the version argument of the force command. -1 clears
// the version table.
func forceVersion(args []string) (int, error) {
	if len(args) < 1 {
		return 0, errors.New("force requires a version number: -command force <version>")
	}
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid version number %q: %w", args[0], err)
	}
	if version < -1 {
		return 0, fmt.Errorf("invalid version number %d", version)
	}
	return version, nil
}
