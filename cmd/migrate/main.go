package main

import (
	"database/sql"
	"errors"
	"flag"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tables carrying a tenant_id column must have row level security enabled
// and forced, or the isolation key is not enforced for the table owner.
// Directory tables are read before any tenant is bound and are exempt.
const unprotectedTablesQuery = `
SELECT c.relname
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attname = 'tenant_id' AND NOT a.attisdropped
WHERE c.relkind = 'r'
  AND n.nspname = current_schema()
  AND c.relname NOT IN ('storefront_configs', 'platform_users')
  AND NOT (c.relrowsecurity AND c.relforcerowsecurity)
ORDER BY c.relname`

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		dsn     = flag.String("database-url", os.Getenv("DATABASE_URL"), "Database URL (defaults to $DATABASE_URL)")
		source  = flag.String("source", "file://scripts/migrations", "Migration source")
		command = flag.String("command", "up", "Migration command (up, down, steps, force, status, verify-rls)")
		version = flag.Int("version", 1, "Version to force")
		steps   = flag.Int("n", 1, "Number of steps for the steps command, negative to revert")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal().Msg("Database URL is required")
	}

	config, err := pgx.ParseConfig(*dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse DSN")
	}
	db := stdlib.OpenDB(*config)
	defer db.Close()

	if *command == "verify-rls" {
		if err := verifyRowSecurity(db); err != nil {
			log.Fatal().Err(err).Msg("Row level security check failed")
		}
		return
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migration driver")
	}
	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}

	switch *command {
	case "up":
		log.Info().Str("source", *source).Msg("Applying migrations...")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		if err := verifyRowSecurity(db); err != nil {
			log.Fatal().Err(err).Msg("Migrations applied but tenant tables are unprotected")
		}
		logVersion(m, "Migrations applied successfully")
	case "down":
		log.Info().Msg("Reverting migrations...")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Failed to revert migrations")
		}
		log.Info().Msg("Migrations reverted successfully")
	case "steps":
		log.Info().Int("steps", *steps).Msg("Migrating by steps...")
		if err := m.Steps(*steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal().Err(err).Msg("Failed to migrate by steps")
		}
		logVersion(m, "Step migration finished")
	case "force":
		log.Info().Int("version", *version).Msg("Forcing migration version...")
		if err := m.Force(*version); err != nil {
			log.Fatal().Err(err).Msg("Failed to force migration version")
		}
		log.Info().Msg("Migration version forced successfully")
	case "status":
		logVersion(m, "Current migration version")
	default:
		log.Fatal().Msgf("Unknown command: %s", *command)
	}
}

func logVersion(m *migrate.Migrate, msg string) {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info().Msg("No migrations applied")
	case err != nil:
		log.Error().Err(err).Msg("Failed to read migration version")
	default:
		log.Info().Uint("version", v).Bool("dirty", dirty).Msg(msg)
	}
}

func verifyRowSecurity(db *sql.DB) error {
	rows, err := db.Query(unprotectedTablesQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	var unprotected []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		unprotected = append(unprotected, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(unprotected) > 0 {
		log.Error().Strs("tables", unprotected).Msg("Tenant tables without forced row level security")
		return errors.New("row level security missing on tenant tables")
	}
	log.Info().Msg("All tenant tables enforce row level security")
	return nil
}
