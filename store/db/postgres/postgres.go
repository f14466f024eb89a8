package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/store"
)

//go:embed migration/LATEST.sql
var migrationFS embed.FS

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the PostgreSQL database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, fmt.Errorf("dsn required")
	}

	postgresDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open db with dsn %s: %w", profile.DSN, err)
	}

	postgresDB.SetMaxOpenConns(25)
	postgresDB.SetMaxIdleConns(5)

	driver := DB{db: postgresDB, profile: profile}

	return &driver, nil
}

func (db *DB) GetDB() *sql.DB {
	return db.db
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := db.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = 'content')").Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check if database is initialized: %w", err)
	}
	return exists, nil
}

func (db *DB) Migrate(ctx context.Context) error {
	buf, err := migrationFS.ReadFile("migration/LATEST.sql")
	if err != nil {
		return fmt.Errorf("failed to read latest schema: %w", err)
	}
	if _, err := db.db.ExecContext(ctx, string(buf)); err != nil {
		return fmt.Errorf("failed to apply latest schema: %w", err)
	}
	return nil
}
