// Package db handles the database access layer.
package db

import (
	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/internal/profile"
	"github.com/linkhoard/linkhoard/store"
	"github.com/linkhoard/linkhoard/store/db/postgres"
	"github.com/linkhoard/linkhoard/store/db/sqlite"
)

// NewDBDriver creates a new database driver for the configured backend.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
