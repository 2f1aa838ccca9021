package database

import (
	"database/sql"
	"embed"
	"fmt"
)

//go:embed schemas/*.sql
var schemaFS embed.FS

// schemaFiles maps database names to their embedded schema files.
// Schemas are embedded in the binary so migration works regardless of
// working directory or deployment layout.
var schemaFiles = map[string]string{
	"governor": "schemas/governor_schema.sql",
}

// Migrate applies the database schema for this database's name.
// Unknown names are skipped (tables may be managed externally).
// The schema uses CREATE TABLE IF NOT EXISTS throughout, so re-running
// migration on an existing database is a no-op.
func (db *DB) Migrate() error {
	schemaFile, ok := schemaFiles[db.name]
	if !ok {
		return nil
	}

	content, err := schemaFS.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("failed to read embedded schema %s: %w", schemaFile, err)
	}

	err = WithTransaction(db.conn, func(tx *sql.Tx) error {
		if _, execErr := tx.Exec(string(content)); execErr != nil {
			return fmt.Errorf("failed to execute schema %s for %s: %w", schemaFile, db.name, execErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return nil
}
