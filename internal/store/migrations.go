package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

// schemaRevisions lists the embedded schema scripts in apply order.
var schemaRevisions = []struct {
	version int
	name    string
	script  string
}{
	{1, "initial_schema", initialSchema},
}

// runMigrations brings the run-history schema up to the latest revision.
// Pending revisions each apply in their own transaction and are recorded in
// schema_version, so a rerun is a no-op.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return storeError("create schema_version", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return storeError("read schema_version", err)
	}

	for _, rev := range schemaRevisions {
		if rev.version <= current {
			continue
		}
		if err := applyRevision(ctx, db, rev.version, rev.name, rev.script); err != nil {
			return err
		}
	}
	return nil
}

func applyRevision(ctx context.Context, db *sql.DB, version int, name, script string) error {
	op := fmt.Sprintf("apply schema revision %d (%s)", version, name)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range sqlStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storeError(op, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, version, name); err != nil {
		return storeError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storeError(op, err)
	}
	return nil
}

// sqlStatements splits an embedded script into executable statements,
// dropping blank and comment-only chunks.
func sqlStatements(script string) []string {
	var out []string
	for _, chunk := range strings.Split(script, ";") {
		stmt := strings.TrimSpace(chunk)
		if stmt == "" || commentOnly(stmt) {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func commentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
