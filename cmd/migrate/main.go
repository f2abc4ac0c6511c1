// Package main applies the map_snapshots schema migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/cory-johannsen/automapper/internal/config"
)

// migrator is the subset of *migrate.Migrate the runner drives.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
}

// plan is one parsed invocation of the runner.
type plan struct {
	direction string
	steps     int
	force     int
}

// apply executes p against m and writes a one-line summary to out.
//
// Precondition: p.direction is one of up, down, version, force.
// Postcondition: Returns nil when the schema is already current.
func apply(m migrator, p plan, out io.Writer, start time.Time) error {
	var err error
	switch p.direction {
	case "up":
		err = step(m.Up, m, p.steps)
	case "down":
		err = step(m.Down, m, -p.steps)
	case "force":
		if p.force < 0 {
			return fmt.Errorf("force requires -version >= 0")
		}
		err = m.Force(p.force)
	case "version":
	default:
		return fmt.Errorf("invalid direction %q: must be up, down, version or force", p.direction)
	}

	noChange := errors.Is(err, migrate.ErrNoChange)
	if err != nil && !noChange {
		return fmt.Errorf("migration %s failed: %w", p.direction, err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("reading version: %w", verr)
	}
	elapsed := time.Since(start)
	switch {
	case p.direction == "version":
		fmt.Fprintf(out, "version=%d dirty=%v [%s]\n", version, dirty, elapsed)
	case noChange:
		fmt.Fprintf(out, "no changes (version=%d dirty=%v) [%s]\n", version, dirty, elapsed)
	default:
		fmt.Fprintf(out, "migrated %s to version=%d dirty=%v [%s]\n", p.direction, version, dirty, elapsed)
	}
	return nil
}

// step runs all when n is zero, otherwise n relative steps.
func step(all func() error, m migrator, n int) error {
	if n == 0 {
		return all()
	}
	return m.Steps(n)
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file (defaults and AUTOMAPPER_* env when empty)")
	migrationsDir := flag.String("migrations", "migrations", "directory holding the SQL migrations")
	direction := flag.String("direction", "up", "up, down, version or force")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	force := flag.Int("version", -1, "version to record with -direction force")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	dir, err := filepath.Abs(*migrationsDir)
	if err != nil {
		log.Fatalf("resolving migrations dir: %v", err)
	}
	m, err := migrate.New("file://"+filepath.ToSlash(dir), cfg.Database.DSN())
	if err != nil {
		log.Fatalf("creating migrator: %v", err)
	}
	defer m.Close()

	if err := apply(m, plan{direction: *direction, steps: *steps, force: *force}, os.Stdout, start); err != nil {
		log.Fatal(err)
	}
}
