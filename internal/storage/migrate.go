package storage

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/devmatrix-ai/devmatrix-mvp-sub020/internal/logger"
)

// Migrator wraps bun's migrate.Migrator, grounded on the teacher's own
// storage.Migrator.
type Migrator struct {
	migrator *migrate.Migrator
	log      *logger.Logger
}

// NewMigrator discovers migrations under migrationsFS and builds a Migrator.
func NewMigrator(db *bun.DB, migrationsFS fs.FS, log *logger.Logger) (*Migrator, error) {
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(migrationsFS); err != nil {
		return nil, fmt.Errorf("discovering migrations: %w", err)
	}
	return &Migrator{migrator: migrate.NewMigrator(db, migrations), log: log}, nil
}

// Init initializes bun's migration tracking tables.
func (m *Migrator) Init(ctx context.Context) error {
	return m.migrator.Init(ctx)
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	group, err := m.migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if group.IsZero() {
		m.log.Info("no new migrations to run")
		return nil
	}
	m.log.Info("migrations applied", "group_id", group.ID, "migrations", fmt.Sprintf("%v", group.Migrations.Applied()))
	return nil
}

// Down rolls back the last migration group.
func (m *Migrator) Down(ctx context.Context) error {
	group, err := m.migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	if group.IsZero() {
		m.log.Info("no migrations to roll back")
		return nil
	}
	m.log.Info("migrations rolled back", "group_id", group.ID)
	return nil
}

// Status reports which migrations have been applied.
func (m *Migrator) Status(ctx context.Context) error {
	ms, err := m.migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}
	for _, migration := range ms {
		status := "pending"
		if migration.GroupID > 0 {
			status = "applied"
		}
		m.log.Info("migration", "name", migration.Name, "status", status)
	}
	return nil
}
