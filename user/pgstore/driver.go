package pgstore

import (
	"context"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v4/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Driver represents the PostgreSQL user storage driver
type Driver struct {
	dsn   string
	db    *pgxpool.Pool
	users *UserRepository
}

// New creates a new empty PostgreSQL storage driver.
// Use Initialize to open the database connection and initialize the repository.
func New(dsn string) *Driver {
	return &Driver{
		dsn: dsn,
	}
}

// Initialize opens the database connection, migrates the database and initializes the repository
func (driver *Driver) Initialize(ctx context.Context) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	migrator, err := migrate.NewWithSourceInstance("iofs", source, driver.dsn)
	if err != nil {
		return err
	}
	defer migrator.Close()
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	pool, err := pgxpool.Connect(ctx, driver.dsn)
	if err != nil {
		return err
	}
	driver.db = pool
	driver.users = &UserRepository{db: pool}

	return nil
}

// Users provides the PostgreSQL user repository
func (driver *Driver) Users() *UserRepository {
	return driver.users
}

// Close discards the repository and closes the database connection
func (driver *Driver) Close() {
	driver.users = nil
	if driver.db != nil {
		driver.db.Close()
		driver.db = nil
	}
}
