package infra

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies every pending migration in dir.
func RunMigrations(databaseURL, dir string) error {
	m, err := newMigrate(databaseURL, dir)
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// RollbackMigrations reverts the given number of migrations.
func RollbackMigrations(databaseURL, dir string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("migrate down: steps must be positive")
	}
	m, err := newMigrate(databaseURL, dir)
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func newMigrate(databaseURL, dir string) (*migrate.Migrate, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve migrations dir: %w", err)
	}
	m, err := migrate.New("file://"+filepath.ToSlash(abs), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}

func closeMigrate(m *migrate.Migrate) {
	_, _ = m.Close()
}
