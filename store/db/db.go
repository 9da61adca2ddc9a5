// Package db provides the database driver factory.
package db

import (
	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/internal/profile"
	"github.com/datasage-io/datasage/store"
	"github.com/datasage-io/datasage/store/db/postgres"
	"github.com/datasage-io/datasage/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(p *profile.Profile) (store.Driver, error) {
	switch p.Driver {
	case "sqlite":
		return sqlite.NewDB(p)
	case "postgres":
		return postgres.NewDB(p)
	default:
		return nil, errors.Errorf("unknown db driver %q", p.Driver)
	}
}
