package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	iofs "github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"jan-server/services/research-api/internal/infrastructure/database/entities"
	"jan-server/services/research-api/migrations"
)

// Models lists the entities covered by the SQL migrations.
func Models() []any {
	return []any{
		&entities.Conversation{},
		&entities.ConversationMessage{},
		&entities.MessageFeedback{},
	}
}

// Migrate brings the schema to the newest embedded version. A dirty version left by a crashed
// run is forced clean and re-applied.
func Migrate(ctx context.Context, gormDB *gorm.DB, log zerolog.Logger) (err error) {
	log = log.With().Str("component", "migrate").Logger()

	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("retrieve sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("initialize postgres driver: %w", err)
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = source.Close()
		_ = driver.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		sourceErr, driverErr := migrator.Close()
		if err == nil {
			err = errors.Join(sourceErr, driverErr)
		}
	}()

	from, err := schemaVersion(migrator)
	if err != nil {
		return err
	}
	if from.dirty {
		log.Warn().Uint("version", from.version).Msg("schema is dirty, forcing version")
		if err := migrator.Force(int(from.version)); err != nil {
			return fmt.Errorf("force version %d: %w", from.version, err)
		}
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	to, err := schemaVersion(migrator)
	if err != nil {
		return err
	}
	log.Info().Uint("from", from.version).Uint("to", to.version).Msg("schema up to date")
	return nil
}

const migrationsTable = "research_schema_migrations"

type version struct {
	version uint
	dirty   bool
}

func schemaVersion(m *migrate.Migrate) (version, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return version{}, nil
	}
	if err != nil {
		return version{}, fmt.Errorf("read schema version: %w", err)
	}
	return version{version: v, dirty: dirty}, nil
}
