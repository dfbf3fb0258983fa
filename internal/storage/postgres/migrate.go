package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationResult reports the schema state after Migrate.
type MigrationResult struct {
	Version uint
	Dirty   bool
	// Changed is false when the schema was already at the target version.
	Changed bool
}

// Migrate applies the migrations in dir to the database at dsn.
// direction is "up" or "down"; steps of 0 applies every pending migration.
//
// Precondition: dir must hold golang-migrate numbered SQL files.
// Postcondition: Returns the resulting version, or a non-nil error.
func Migrate(dsn, dir, direction string, steps int) (MigrationResult, error) {
	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

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
		return MigrationResult{}, fmt.Errorf("invalid direction %q: must be 'up' or 'down'", direction)
	}

	res := MigrationResult{Changed: true}
	if errors.Is(err, migrate.ErrNoChange) {
		res.Changed = false
		err = nil
	}
	if err != nil {
		return MigrationResult{}, fmt.Errorf("migrating %s: %w", direction, err)
	}

	res.Version, res.Dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("reading schema version: %w", err)
	}
	return res, nil
}
