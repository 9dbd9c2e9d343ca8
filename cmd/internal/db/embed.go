// Package db holds Chirp's SQL schema and the migration runner.
package db

import "embed"

// MigrationFS holds the versioned SQL migrations (golang-migrate file naming).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
