package rallydb

import (
	"fmt"
	"strconv"

	"github.com/courtside-data/rallycut/internal/monitoring"
)

// RunMigrateCommand dispatches a migration action against the database at
// dbPath, reading SQL files from migrationsDir. Supported actions: up, down,
// status, force <version>. Every action reports the resulting version.
func RunMigrateCommand(dbPath, migrationsDir string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: migrate <up|down|status|force> [version]")
	}

	db, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	switch action := args[0]; action {
	case "up":
		if err := db.MigrateUp(migrationsDir); err != nil {
			return err
		}

	case "down":
		if err := db.MigrateDown(migrationsDir); err != nil {
			return err
		}

	case "status":
		// Nothing to change; fall through to the version report.

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid migration version %q: %w", args[1], err)
		}
		if err := db.MigrateForce(migrationsDir, version); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown migrate action %q (want up, down, status, or force)", action)
	}

	version, dirty, err := db.MigrateVersion(migrationsDir)
	if err != nil {
		return err
	}
	monitoring.Logf("migration version %d (dirty %v)", version, dirty)
	return nil
}
