// Package migrations embeds the SQL schema of every supported database driver.
package migrations

import "embed"

// SQLite holds the migrations for the local SQLite store.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// Postgres holds the migrations for a PostgreSQL store.
//
//go:embed postgres/*.sql
var Postgres embed.FS
