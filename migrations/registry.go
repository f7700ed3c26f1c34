package migrations

import (
	"fmt"
	"io/fs"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	billing "github.com/goliatone/go-billing"
	"github.com/goliatone/go-billing/core"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	migrationsDir = "data/sql/migrations"
)

// Target is the database a billing store runs on, resolved from
// StoreConfig.Driver.
type Target struct {
	// Dialect selects the migration tree.
	Dialect string
	// SQLDriver is the database/sql driver name.
	SQLDriver string
	Bun       schema.Dialect
}

// Resolve maps a configured driver to its target. An empty driver means
// sqlite.
func Resolve(driver string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return Target{Dialect: DialectSQLite, SQLDriver: "sqlite3", Bun: sqlitedialect.New()}, nil
	case "postgres", "postgresql", "pg":
		return Target{Dialect: DialectPostgres, SQLDriver: "postgres", Bun: pgdialect.New()}, nil
	default:
		return Target{}, core.NewBadInputError(fmt.Sprintf("migrations: unsupported store driver %q", driver))
	}
}

// Source returns the embedded migrations for one dialect. Postgres files sit
// at the root of the tree; sqlite variants live under sqlite/.
func Source(dialect string) (fs.FS, error) {
	dir := migrationsDir
	switch dialect {
	case DialectPostgres:
	case DialectSQLite:
		dir += "/sqlite"
	default:
		return nil, core.NewBadInputError(fmt.Sprintf("migrations: unknown dialect %q", dialect))
	}
	sub, err := fs.Sub(billing.GetMigrationsFS(), dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	matches, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return sub, nil
}

// Register adds the billing migrations for the store's dialect to client.
// Call client.Migrate afterwards to apply them.
func Register(client *persistence.Client, store core.StoreConfig) (Target, error) {
	if client == nil {
		return Target{}, fmt.Errorf("migrations: persistence client is required")
	}
	target, err := Resolve(store.Driver)
	if err != nil {
		return Target{}, err
	}
	source, err := Source(target.Dialect)
	if err != nil {
		return Target{}, err
	}
	client.RegisterSQLMigrations(source)
	return target, nil
}
