// Package migrations embeds the database schema.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed *.sql
var files embed.FS

// Source returns the embedded migrations.
func Source() migrate.MigrationSource {
	return migrate.EmbedFileSystemMigrationSource{FileSystem: files, Root: "."}
}

// Direction selects which way to migrate.
type Direction = migrate.MigrationDirection

const (
	Up   = migrate.Up
	Down = migrate.Down
)

// Run applies up to max migrations (0 means all) against databaseURL and
// returns how many ran.
func Run(databaseURL string, dir Direction, max int) (int, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return 0, fmt.Errorf("migrations: open: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return 0, fmt.Errorf("migrations: connect: %w", err)
	}
	migrate.SetTable("schema_migrations")
	n, err := migrate.ExecMax(db, "postgres", Source(), dir, max)
	if err != nil {
		return n, fmt.Errorf("migrations: exec: %w", err)
	}
	return n, nil
}
