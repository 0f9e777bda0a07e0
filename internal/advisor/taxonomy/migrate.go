package taxonomy

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/wuxing-advisor/server/pkg/database"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations to db.
// direction is "up" or "down"; steps > 0 limits how many are applied.
// The migrator is not closed because it would close db with it.
func Migrate(db *sql.DB, dialect database.Dialect, direction string, steps int) error {
	m, err := newMigrator(db, dialect)
	if err != nil {
		return err
	}

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logx.Info().Str("direction", direction).Msg("Schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	if v, dirty, verr := m.Version(); verr == nil {
		logx.Info().Uint("version", v).Bool("dirty", dirty).Str("direction", direction).Msg("Schema migrated")
	}
	return nil
}

func newMigrator(db *sql.DB, dialect database.Dialect) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	var driver migratedb.Driver
	switch dialect {
	case database.Postgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case database.SQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("migrator: %w", err)
	}
	return m, nil
}
